package bot

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/onboardbot/core/telegram/helpers"
	"github.com/m3rciful/onboardbot/core/telegram/ui"
	"github.com/m3rciful/onboardbot/onboarding/engine"

	tele "gopkg.in/telebot.v4"
)

const (
	cbDrop = "drop"
	// maxPendingButtons caps the inline keyboard of /pending.
	maxPendingButtons = 20
)

func (b *Bot) pending(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	sessions, err := b.engine.Pending(ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(sessions) == 0 {
		return b.reply(c, engine.Reply{Text: "No pending records."})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Pending records: %d\n", len(sessions))
	btns := make([]engine.Button, 0, min(len(sessions), maxPendingButtons))
	for i, s := range sessions {
		fmt.Fprintf(&sb, "\n• user %d, record %s, failed attempts %d, completed %s",
			s.UserID, s.RecordID, s.FlushAttempts, s.CompletedAt.UTC().Format(time.RFC3339))
		if i < maxPendingButtons {
			id := strconv.FormatInt(s.UserID, 10)
			btns = append(btns, engine.Button{Text: "Drop " + id, Key: cbDrop, Payload: id})
		}
	}

	return b.reply(c, engine.Reply{Text: sb.String(), Buttons: btns})
}

func (b *Bot) drop(c tele.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return b.reply(c, engine.Reply{Text: "Usage: /drop <user_id>"})
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
	if err != nil {
		return b.reply(c, engine.Reply{Text: "Usage: /drop <user_id>"})
	}
	text, err := b.dropSession(c, userID)
	if err != nil {
		return err
	}
	return b.reply(c, engine.Reply{Text: text})
}

func (b *Bot) dropCallback(c tele.Context) error {
	if user := c.Sender(); user == nil || b.adminID == 0 || user.ID != b.adminID {
		return ui.Unsupported.Toast(c)
	}
	userID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return ui.Unsupported.Toast(c)
	}
	text, err := b.dropSession(c, userID)
	if err != nil {
		_ = c.Respond(&tele.CallbackResponse{Text: "Drop failed"})
		return err
	}
	return c.Respond(&tele.CallbackResponse{Text: text})
}

func (b *Bot) dropSession(c tele.Context, userID int64) (string, error) {
	ctx := tghelpers.BuildContext(c)
	dropped, err := b.engine.Drop(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("drop session: %w", err)
	}
	logger.LogEvent(ctx, logger.Engine, slog.LevelInfo, "admin.drop",
		slog.Int64("target_user_id", userID),
		slog.Bool("dropped", dropped),
	)
	if !dropped {
		return fmt.Sprintf("No session for user %d.", userID), nil
	}
	return fmt.Sprintf("Dropped session of user %d.", userID), nil
}

func (b *Bot) reply(c tele.Context, r engine.Reply) error {
	chat := c.Chat()
	if chat == nil {
		return nil
	}
	return b.transport.Send(tghelpers.BuildContext(c), chat.ID, r)
}
