// Package state keeps per-user conversation sessions for Telegram bots.
// Backends are injected as a Store so a single process can use memory while
// horizontally scaled deployments share sessions through Redis.
package state
