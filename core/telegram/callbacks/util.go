// Package callbacks decodes inline button callback data.
package callbacks

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Parse returns the unique key and payload of cb. Buttons built with a
// Unique travel as "\f<unique>|<payload>"; telebot usually splits that
// already, otherwise the raw data is decoded here.
func Parse(cb *tele.Callback) (key, payload string) {
	switch {
	case cb == nil:
		return "", ""
	case cb.Unique != "":
		return cb.Unique, cb.Data
	}
	key, payload, _ = strings.Cut(strings.TrimPrefix(cb.Data, "\f"), "|")
	return strings.TrimSpace(key), payload
}

// PayloadInt64 reads the payload of the current callback as a decimal ID.
func PayloadInt64(c tele.Context) (int64, error) {
	_, payload := Parse(c.Callback())
	id, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("callback payload: %w", err)
	}
	return id, nil
}
