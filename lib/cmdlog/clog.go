// Package cmdlog traces instrument traffic with styled log lines.
package cmdlog

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gotmc/mmwave"
	"github.com/gotmc/mmwave/lib/log"
)

func isAscii(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

var (
	NameStyle = lipgloss.NewStyle().Bold(true)
	CmdStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	R1Style   = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	R2Style   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	ErrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Format renders a reply for the log: quoted when printable, hex otherwise.
func Format(a string) string {
	if len(a) == 0 {
		return R1Style.Render("<no response>")
	}
	switch {
	case isAscii(a):
		return R2Style.Render(fmt.Sprintf("[%d] %q", len(a), a))
	case len(a) < 32:
		return R2Style.Render(fmt.Sprintf("[%d] %q (% 2x)", len(a), a, []byte(a)))
	default:
		return R2Style.Render(fmt.Sprintf("[%d] % 2x", len(a), []byte(a)))
	}
}

// Handle wraps another handle and logs every command and reply.
type Handle struct {
	name  string
	inner mmwave.Handle
	logf  func(format string, a ...any)
}

var _ mmwave.Handle = (*Handle)(nil)

// Wrap returns a tracing handle around h. name labels the log lines.
func Wrap(name string, h mmwave.Handle) *Handle {
	return &Handle{name: name, inner: h, logf: log.Printf}
}

// Unwrap returns the wrapped handle.
func (h *Handle) Unwrap() mmwave.Handle { return h.inner }

func (h *Handle) label() string { return NameStyle.Render(h.name) }

func (h *Handle) Send(cmd string) error {
	err := h.inner.Send(cmd)
	if err != nil {
		h.logf("%s %s: %s", h.label(), CmdStyle.Render(cmd), ErrStyle.Render(err.Error()))
	} else {
		h.logf("%s %s()", h.label(), CmdStyle.Render(cmd))
	}
	return err
}

func (h *Handle) Recv() (string, error) {
	a, err := h.inner.Recv()
	if err != nil {
		h.logf("%s recv: %s", h.label(), ErrStyle.Render(err.Error()))
	} else {
		h.logf("%s recv: %s", h.label(), Format(a))
	}
	return a, err
}

func (h *Handle) Query(q string) (string, error) {
	a, err := h.inner.Query(q)
	if err != nil {
		h.logf("%s %s: %s", h.label(), CmdStyle.Render(q), ErrStyle.Render(err.Error()))
	} else {
		h.logf("%s %s: %s", h.label(), CmdStyle.Render(q), Format(a))
	}
	return a, err
}

// Write passes raw bytes through when the wrapped handle accepts them and
// sends them as a command otherwise.
func (h *Handle) Write(p []byte) (int, error) {
	w, ok := h.inner.(interface{ Write([]byte) (int, error) })
	if !ok {
		if err := h.Send(string(p)); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	h.logf("%s raw %s", h.label(), CmdStyle.Render(fmt.Sprintf("% 2x", p)))
	return w.Write(p)
}

// RecvBlock passes a binary block read through when the wrapped handle
// supports it.
func (h *Handle) RecvBlock() ([]byte, error) {
	br, ok := h.inner.(mmwave.BlockReader)
	if !ok {
		a, err := h.Recv()
		return []byte(a), err
	}
	b, err := br.RecvBlock()
	if err != nil {
		h.logf("%s block: %s", h.label(), ErrStyle.Render(err.Error()))
	} else {
		h.logf("%s block: %d bytes", h.label(), len(b))
	}
	return b, err
}

func (h *Handle) Close() error {
	h.logf("%s close", h.label())
	return h.inner.Close()
}
