package netutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"unexpected eof", &url.Error{Op: "Post", URL: "https://api.telegram.org", Err: io.ErrUnexpectedEOF}, true},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("no route")}, true},
		{"dns timeout", &net.DNSError{IsTimeout: true}, true},
		{"dns not found", &net.DNSError{IsNotFound: true}, false},
		{"url wrapped deadline", &url.Error{Op: "Post", URL: "x", Err: context.DeadlineExceeded}, true},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.err))
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "timeout", Kind(context.DeadlineExceeded))
	assert.Equal(t, "reset", Kind(fmt.Errorf("read: %w", syscall.ECONNRESET)))
	assert.Equal(t, "dns", Kind(&net.DNSError{IsNotFound: true}))
	assert.Equal(t, "dial", Kind(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, "timeout", Kind(&url.Error{Op: "Post", URL: "x", Err: context.DeadlineExceeded}))
	assert.Equal(t, "unknown", Kind(errors.New("???")))
}

func TestStatusFromMessage(t *testing.T) {
	assert.Equal(t, 502, StatusFromMessage("telegram: Bad Gateway (502)"))
	assert.Equal(t, 0, StatusFromMessage("retry (soon)"))
	assert.Equal(t, 0, StatusFromMessage("no status"))
	assert.Equal(t, 0, StatusFromMessage("odd (7)"))
}
