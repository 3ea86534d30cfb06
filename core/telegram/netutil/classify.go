package netutil

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"syscall"
)

// Kind labels a transport failure for logs and metrics: timeout, dns, dial,
// reset, tls or unknown.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return "reset"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return "timeout"
		}
		return "dns"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "dial"
	}
	var alert tls.AlertError
	if errors.As(err, &alert) {
		return "tls"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil && urlErr.Err != err {
		return Kind(urlErr.Err)
	}
	return "unknown"
}

// StatusFromMessage extracts a trailing "(NNN)" HTTP status from an error
// message, the form Telegram API errors are rendered in. It returns 0 when
// there is none.
func StatusFromMessage(msg string) int {
	open := strings.LastIndexByte(msg, '(')
	end := strings.LastIndexByte(msg, ')')
	if open < 0 || end <= open+1 {
		return 0
	}
	code, err := strconv.Atoi(strings.TrimSpace(msg[open+1 : end]))
	if err != nil || code < 100 || code > 599 {
		return 0
	}
	return code
}
