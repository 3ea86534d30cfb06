package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

// Registry maps command names, aliases and callback keys to handlers.
// It is safe for concurrent use.
type Registry struct {
	mu               sync.RWMutex
	commands         map[string]commands.Command
	aliases          map[string]string // alias -> canonical name
	callbacks        map[string]tele.HandlerFunc
	callbackNotFound tele.HandlerFunc
	textFallback     tele.HandlerFunc
}

// NewRegistry creates an empty Registry. Unknown callbacks are answered
// with a short toast until SetCallbackNotFound replaces it.
func NewRegistry() *Registry {
	return &Registry{
		commands:  make(map[string]commands.Command),
		aliases:   make(map[string]string),
		callbacks: make(map[string]tele.HandlerFunc),
		callbackNotFound: func(c tele.Context) error {
			return c.Respond(&tele.CallbackResponse{Text: "Unsupported action"})
		},
	}
}

func wireWarn(event string, attrs ...slog.Attr) {
	logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, event, attrs...)
}

// RegisterCommand adds cmd under name, which must start with a slash.
// Aliases share the command's handler and may be given with or without
// the slash.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) error {
	if cmd.Handler == nil || cmd.Description == "" {
		wireWarn("register.command.skip", slog.String("name", name), slog.String("reason", "invalid"))
		return fmt.Errorf("command %q: handler and description are required", name)
	}
	if !strings.HasPrefix(name, "/") || commands.Name(name) != name {
		wireWarn("register.command.skip", slog.String("name", name), slog.String("reason", "bad_name"))
		return fmt.Errorf("command %q must be a lowercase /name", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken(name) {
		wireWarn("register.command.duplicate", slog.String("name", name))
		return fmt.Errorf("command already registered: %s", name)
	}
	aliases := make([]string, 0, len(cmd.Aliases))
	for _, a := range cmd.Aliases {
		alias := commands.Name(a)
		if alias == "" || alias == name {
			continue
		}
		if r.taken(alias) || slices.Contains(aliases, alias) {
			wireWarn("register.command.duplicate", slog.String("name", name), slog.String("alias", alias))
			return fmt.Errorf("command %s: alias %s already registered", name, alias)
		}
		aliases = append(aliases, alias)
	}
	r.commands[name] = cmd
	for _, alias := range aliases {
		r.aliases[alias] = name
	}
	return nil
}

func (r *Registry) taken(name string) bool {
	_, cmd := r.commands[name]
	_, alias := r.aliases[name]
	return cmd || alias
}

// ListCommands returns menu entries sorted by name. Hidden commands are
// never listed; with visibleOnly set admin-only commands are left out too.
func (r *Registry) ListCommands(visibleOnly bool) []tele.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []tele.Command
	for _, name := range slices.Sorted(maps.Keys(r.commands)) {
		meta := r.commands[name]
		if meta.Hidden || (visibleOnly && meta.AdminOnly) {
			continue
		}
		list = append(list, tele.Command{Text: strings.TrimPrefix(name, "/"), Description: meta.Description})
	}
	return list
}

// LookupCommand resolves the command at the start of text by name or
// alias and returns its canonical name.
func (r *Registry) LookupCommand(text string) (string, commands.Command, bool) {
	name := commands.Name(text)
	if name == "" {
		return "", commands.Command{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	cmd, ok := r.commands[name]
	if !ok {
		return "", commands.Command{}, false
	}
	return name, cmd, true
}

// Commands returns a snapshot of all registered commands.
func (r *Registry) Commands() map[string]commands.Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.commands)
}

// RegisterCallback maps an inline button's unique key to handler.
func (r *Registry) RegisterCallback(key string, handler tele.HandlerFunc) error {
	if key == "" || handler == nil {
		wireWarn("register.callback.skip", slog.String("key", key), slog.Bool("handler_nil", handler == nil))
		return errors.New("invalid callback registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.callbacks[key]; exists {
		wireWarn("register.callback.duplicate", slog.String("key", key))
		return fmt.Errorf("callback already registered: %s", key)
	}
	r.callbacks[key] = handler
	return nil
}

// GetCallback returns the handler registered for key.
func (r *Registry) GetCallback(key string) (tele.HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.callbacks[key]
	return h, ok
}

// ListCallbacks returns the registered keys in order.
func (r *Registry) ListCallbacks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.callbacks))
}

// SetCallbackNotFound replaces the handler for unknown callback keys. Nil is ignored.
func (r *Registry) SetCallbackNotFound(h tele.HandlerFunc) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.callbackNotFound = h
	r.mu.Unlock()
}

func (r *Registry) CallbackNotFound() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.callbackNotFound
}

// SetTextFallback sets the handler for text no conversation claimed.
func (r *Registry) SetTextFallback(h tele.HandlerFunc) {
	r.mu.Lock()
	r.textFallback = h
	r.mu.Unlock()
}

func (r *Registry) TextFallback() tele.HandlerFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.textFallback
}

// InitBotCommands publishes the public command menu and, when adminID is
// set, a fuller menu scoped to the admin's chat. Failures are logged only.
func InitBotCommands(bot *tele.Bot, reg *Registry, adminID int64) {
	report := func(scope string, err error) {
		if err != nil {
			logger.TWire.LogAttrs(context.Background(), slog.LevelError, "register.commands.set_failed",
				slog.String("scope", scope),
				slog.String("err", err.Error()),
			)
		}
	}
	report("default", bot.SetCommands(reg.ListCommands(true)))
	if adminID != 0 {
		report("admin", bot.SetCommands(reg.ListCommands(false), tele.CommandScope{Type: tele.CommandScopeChat, ChatID: adminID}))
	}
}
