package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdown(t *testing.T) {
	assert.Equal(t, `EMP\_0042`, Markdown("EMP_0042"))
	assert.Equal(t, `\*bold\* \[x]`, Markdown("*bold* [x]"))
	assert.Equal(t, "a.b-c!", Markdown("a.b-c!"))
}

func TestMarkdownV2(t *testing.T) {
	assert.Equal(t, `a\.b\-c\!`, MarkdownV2("a.b-c!"))
	assert.Equal(t, `\\\_`, MarkdownV2(`\_`))
	assert.Equal(t, `\(\+91\)`, MarkdownV2("(+91)"))
}

func TestCodeV2(t *testing.T) {
	assert.Equal(t, "x_y", CodeV2("x_y"))
	assert.Equal(t, "a\\`b", CodeV2("a`b"))
	assert.Equal(t, `c:\\tmp`, CodeV2(`c:\tmp`))
}
