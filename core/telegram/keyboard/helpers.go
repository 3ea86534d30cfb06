// Package keyboard builds Telegram reply and inline markups.
package keyboard

import tele "gopkg.in/telebot.v4"

// Button is an inline button. Unique selects the callback handler and Data
// travels as its payload.
type Button struct {
	Text   string
	Unique string
	Data   string
}

// Remove hides a reply keyboard shown earlier.
func Remove() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// Choices lays labels out as a one-time reply keyboard, perRow to a row.
func Choices(labels []string, perRow int) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	for _, row := range split(labels, perRow) {
		btns := make([]tele.ReplyButton, len(row))
		for i, label := range row {
			btns[i] = tele.ReplyButton{Text: label}
		}
		m.ReplyKeyboard = append(m.ReplyKeyboard, btns)
	}
	return m
}

// Inline stacks buttons one per row.
func Inline(buttons ...Button) *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{}
	for _, b := range buttons {
		m.InlineKeyboard = append(m.InlineKeyboard, []tele.InlineButton{
			{Text: b.Text, Unique: b.Unique, Data: b.Data},
		})
	}
	return m
}

// split cuts items into rows of at most n; n below one means one per row.
func split[T any](items []T, n int) [][]T {
	n = max(n, 1)
	rows := make([][]T, 0, (len(items)+n-1)/n)
	for len(items) > 0 {
		k := min(n, len(items))
		rows = append(rows, items[:k])
		items = items[k:]
	}
	return rows
}
