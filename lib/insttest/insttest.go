// Package insttest provides a scripted instrument handle for tests.
package insttest

import (
	"errors"
	"strings"
	"sync"
)

// ErrNoReply is returned by Recv when no reply is pending.
var ErrNoReply = errors.New("insttest: no reply pending")

// Fake records every command it receives and answers from a script. It
// satisfies mmwave.Handle and io.Writer.
type Fake struct {
	mu      sync.Mutex
	sent    []string
	pending []string
	exact   map[string][]string
	funcs   []func(cmd string) (string, bool)
	closed  bool
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{exact: make(map[string][]string)}
}

// On queues replies for an exact command. Replies are served in order and
// the last one repeats.
func (f *Fake) On(cmd string, replies ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exact[cmd] = append(f.exact[cmd], replies...)
	return f
}

// Handle registers fn to answer commands without an exact script. fn
// reports false when the command has no reply.
func (f *Fake) Handle(fn func(cmd string) (string, bool)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funcs = append(f.funcs, fn)
	return f
}

func (f *Fake) Send(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("insttest: closed")
	}
	f.sent = append(f.sent, cmd)
	if r, ok := f.reply(cmd); ok {
		f.pending = append(f.pending, r)
	}
	return nil
}

func (f *Fake) reply(cmd string) (string, bool) {
	if rs, ok := f.exact[cmd]; ok && len(rs) > 0 {
		r := rs[0]
		if len(rs) > 1 {
			f.exact[cmd] = rs[1:]
		}
		return r, true
	}
	for _, fn := range f.funcs {
		if r, ok := fn(cmd); ok {
			return r, true
		}
	}
	return "", false
}

// Write treats p as a command without terminator.
func (f *Fake) Write(p []byte) (int, error) {
	return len(p), f.Send(string(p))
}

func (f *Fake) Recv() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return "", ErrNoReply
	}
	r := f.pending[0]
	f.pending = f.pending[1:]
	return r, nil
}

func (f *Fake) Query(cmd string) (string, error) {
	if err := f.Send(cmd); err != nil {
		return "", err
	}
	return f.Recv()
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Sent returns a copy of the commands received so far.
func (f *Fake) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// SentWithPrefix returns the received commands starting with prefix.
func (f *Fake) SentWithPrefix(prefix string) []string {
	var out []string
	for _, s := range f.Sent() {
		if strings.HasPrefix(s, prefix) {
			out = append(out, s)
		}
	}
	return out
}

// Reset forgets received commands and pending replies.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.pending = nil
}

// RecvBlock returns the next pending reply as raw bytes, so scripted
// replies can carry binary blocks.
func (f *Fake) RecvBlock() ([]byte, error) {
	r, err := f.Recv()
	if err != nil {
		return nil, err
	}
	return []byte(r), nil
}
