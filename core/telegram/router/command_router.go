package router

import (
	"log/slog"
	"time"

	"github.com/m3rciful/onboardbot/core/logger"
	tg "github.com/m3rciful/onboardbot/core/telegram"
	"github.com/m3rciful/onboardbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes binds every registered command to its endpoint. Admin-only
// commands are guarded by AdminOnlyMiddleware.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	admin := middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		AdminID:  opts.AdminID,
		OnReject: opts.OnAdminReject,
	})

	cmds := reg.Commands()
	routes := make([]tg.Route, 0, len(cmds))
	for name, def := range cmds {
		h := commandHandler(name, def.Handler)
		if def.AdminOnly {
			h = admin(h)
		}
		routes = append(routes, tg.Route{Endpoint: name, Handler: h})
	}

	logger.TWire.Info("tg.wire",
		slog.String("event", "complete"),
		slog.Int("commands", len(cmds)),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)

	return routes
}

func commandHandler(name string, h tele.HandlerFunc) tele.HandlerFunc {
	st := newStep("cmd", name)
	return func(c tele.Context) error {
		return st.run(c, time.Now(), h)
	}
}
