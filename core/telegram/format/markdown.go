// Package format escapes user-supplied text for Telegram parse modes.
package format

import "strings"

func escaper(specials string) *strings.Replacer {
	pairs := make([]string, 0, 2*len(specials))
	for _, r := range specials {
		pairs = append(pairs, string(r), `\`+string(r))
	}
	return strings.NewReplacer(pairs...)
}

var (
	markdown   = escaper("_*`[")
	markdownV2 = escaper("\\_*[]()~`>#+-=|{}.!")
	codeV2     = escaper("\\`")
)

// Markdown escapes text for the legacy Markdown parse mode.
func Markdown(text string) string { return markdown.Replace(text) }

// MarkdownV2 escapes text for MarkdownV2 outside code entities.
func MarkdownV2(text string) string { return markdownV2.Replace(text) }

// CodeV2 escapes text placed inside a MarkdownV2 code or pre entity, where
// only the backtick and backslash are special.
func CodeV2(text string) string { return codeV2.Replace(text) }
