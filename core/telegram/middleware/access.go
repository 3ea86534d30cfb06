package middleware

import (
	"log/slog"

	"github.com/m3rciful/onboardbot/core/logger"
	tghelpers "github.com/m3rciful/onboardbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// AdminOptions configures AdminOnlyMiddleware.
type AdminOptions struct {
	AdminID int64
	// OnReject handles updates from everyone else; nil drops them.
	OnReject tele.HandlerFunc
}

// AdminOnlyMiddleware lets only the configured admin reach next. With
// AdminID unset nobody is admitted.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if userID, _ := tghelpers.IDs(c); opts.AdminID != 0 && userID == opts.AdminID {
				return next(c)
			}
			logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelInfo, "tg.admin.reject",
				slog.String("status", "skip"),
				slog.Bool("admin_set", opts.AdminID != 0),
			)
			if opts.OnReject == nil {
				return nil
			}
			return opts.OnReject(c)
		}
	}
}
