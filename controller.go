// Copyright (c) 2024–2026 The mmwave developers. All rights reserved.
// Project site: https://github.com/gotmc/mmwave
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package mmwave

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotmc/mmwave/lib/block"
	"github.com/gotmc/mmwave/lib/log"
)

// Bus models a Prologix GPIB-USB or GPIB-ETHERNET adapter acting as
// controller-in-charge. Several instruments share one bus; each gets its own
// Controller, and the bus re-addresses the adapter whenever a different
// instrument starts a transaction.
type Bus struct {
	mu          sync.Mutex
	rw          io.ReadWriter
	r           *bufio.Reader
	usbTerm     byte
	eotChar     byte
	readTimeout time.Duration
	writeDelay  time.Duration
	lastWrite   time.Time
	addressed   string // argument of the last ++addr sent
	debug       bool   // if true, log controller commands before sending
	ar488       bool   // compatibility with Arduino AR488 - see WithAR488
}

// BusOption applies an option to the bus.
type BusOption func(*Bus)

// WithDebug causes commands and responses to be logged.
func WithDebug() BusOption { return func(b *Bus) { b.debug = true } }

// WithAR488 slightly alters the init commands, for compatibility with the
// Arduino-based AR488. Specifically, we do not emit 'verbose 0', nor do
// we toggle savecfg.
func WithAR488() BusOption { return func(b *Bus) { b.ar488 = true } }

// WithWriteDelay enforces a minimum delay between consecutive writes to the
// adapter. Some older instruments drop commands that arrive back to back.
func WithWriteDelay(d time.Duration) BusOption { return func(b *Bus) { b.writeDelay = d } }

// WithReadTimeout sets the adapter's GPIB read timeout. The same timeout is
// applied as a read deadline when the transport supports one.
func WithReadTimeout(d time.Duration) BusOption { return func(b *Bus) { b.readTimeout = d } }

// NewBus configures the Prologix adapter reachable through rw, which is
// either a virtual COM port or a TCP connection to a GPIB-ETHERNET.
func NewBus(rw io.ReadWriter, opts ...BusOption) (*Bus, error) {
	b := Bus{
		rw:          rw,
		r:           bufio.NewReader(rw),
		usbTerm:     '\n',
		eotChar:     '\n',
		readTimeout: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&b)
	}

	tmo := b.readTimeout.Milliseconds()
	if tmo < 1 {
		tmo = 1
	}
	if tmo > 3000 {
		tmo = 3000 // adapter maximum
	}
	cmds := []string{}
	if !b.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // disable saving of configuration parameters in EPROM
		)
	}
	cmds = append(cmds,
		"mode 1", // switch to controller mode
		"auto 0", // no read-after-write, address instrument to listen
		"eoi 1",  // assert EOI with last character
		"eos 0",  // CR+LF GPIB termination
		fmt.Sprintf("read_tmo_ms %d", tmo),
		fmt.Sprintf("eot_char %d", b.eotChar),
		"eot_enable 1", // append eot_char when EOI detected
	)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cmd := range cmds {
		if err := b.commandController(cmd); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

// Controller creates a handle for the instrument at the given primary
// address. Enable clear to send the Selected Device Clear (SDC) message.
func (b *Bus) Controller(addr int, clear bool, opts ...ControllerOption) (*Controller, error) {
	c := Controller{bus: b, primaryAddr: addr}
	for _, opt := range opts {
		opt(&c)
	}
	if !isPrimaryAddressValid(c.primaryAddr) {
		return nil, fmt.Errorf("invalid primary address %d (must be 0-30)", c.primaryAddr)
	}
	c.addrArg = strconv.Itoa(c.primaryAddr)
	if c.hasSecondaryAddr {
		if !isSecondaryAddressValid(c.secondaryAddr) {
			return nil, fmt.Errorf("invalid secondary address %d (must be 96-126)", c.secondaryAddr)
		}
		c.addrArg = fmt.Sprintf("%d %d", c.primaryAddr, c.secondaryAddr)
	}
	if clear {
		if err := c.ClearDevice(); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// Version returns the adapter's version string.
func (b *Bus) Version() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.commandController("ver"); err != nil {
		return "", err
	}
	s, err := b.readLine()
	return trimReply(s, string(b.eotChar)), err
}

// Close closes the underlying transport if it is closable.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cl, ok := b.rw.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

func (b *Bus) write(p []byte) error {
	if b.writeDelay > 0 {
		if wait := b.writeDelay - time.Since(b.lastWrite); wait > 0 {
			time.Sleep(wait)
		}
	}
	_, err := b.rw.Write(p)
	b.lastWrite = time.Now()
	return err
}

// commandController sends the given command to the Prologix adapter. To
// indicate this is a command for the adapter, thereby not transmitting to the
// instrument over GPIB, two plus signs `++` are prepended.
func (b *Bus) commandController(cmd string) error {
	cmd = fmt.Sprintf("++%s%c", strings.ToLower(strings.TrimSpace(cmd)), b.usbTerm)
	if b.debug {
		log.Debugf("cmd %q", cmd)
	}
	return b.write([]byte(cmd))
}

func (b *Bus) address(arg string) error {
	if b.addressed == arg {
		return nil
	}
	if err := b.commandController("addr " + arg); err != nil {
		return err
	}
	b.addressed = arg
	return nil
}

func (b *Bus) readLine() (string, error) {
	if d, ok := b.rw.(interface{ SetReadDeadline(time.Time) error }); ok && b.readTimeout > 0 {
		// give the adapter its own timeout plus transport slack
		_ = d.SetReadDeadline(time.Now().Add(b.readTimeout + time.Second))
	}
	s, err := readTerm(b.r, string(b.eotChar))
	if err == io.EOF && s != "" {
		return s, nil
	}
	if b.debug {
		log.Debugf("read data: %q", s)
	}
	return s, err
}

// Controller is the handle of one instrument on a GPIB bus.
type Controller struct {
	bus              *Bus
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	addrArg          string
}

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive.
func WithSecondaryAddress(addr int) ControllerOption {
	return func(c *Controller) {
		c.hasSecondaryAddr = true
		c.secondaryAddr = addr
	}
}

// NewController configures a Prologix adapter on rw and returns a handle to
// the instrument at addr. It is shorthand for NewBus followed by
// Bus.Controller when only one instrument sits on the bus.
func NewController(rw io.ReadWriter, addr int, clear bool, opts ...ControllerOption) (*Controller, error) {
	b, err := NewBus(rw)
	if err != nil {
		return nil, err
	}
	return b.Controller(addr, clear, opts...)
}

// Address returns the primary and secondary GPIB address. The secondary
// address is zero when unset.
func (c *Controller) Address() (int, int) {
	if !c.hasSecondaryAddr {
		return c.primaryAddr, 0
	}
	return c.primaryAddr, c.secondaryAddr
}

// Bus returns the bus the instrument sits on.
func (c *Controller) Bus() *Bus { return c.bus }

// Send sends a SCPI/ASCII command to the instrument. All leading and trailing
// whitespace is removed before appending the USB terminator.
func (c *Controller) Send(cmd string) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	return c.send(cmd)
}

// Command formats according to a format specifier and sends the result.
func (c *Controller) Command(format string, a ...any) error {
	return c.Send(fmt.Sprintf(format, a...))
}

func (c *Controller) send(cmd string) error {
	if err := c.bus.address(c.addrArg); err != nil {
		return err
	}
	cmd = fmt.Sprintf("%s%c", escape(strings.TrimSpace(cmd)), c.bus.usbTerm)
	if c.bus.debug {
		log.Debugf("cmd %q", cmd)
	}
	return c.bus.write([]byte(cmd))
}

// Recv asks the adapter to read from the instrument until EOI and returns the
// reply.
func (c *Controller) Recv() (string, error) {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	return c.recv()
}

func (c *Controller) recv() (string, error) {
	if err := c.bus.address(c.addrArg); err != nil {
		return "", err
	}
	if err := c.bus.commandController("read eoi"); err != nil {
		return "", fmt.Errorf("error sending `++read eoi` command: %w", err)
	}
	s, err := c.bus.readLine()
	if err != nil {
		return "", err
	}
	return trimReply(s, string(c.bus.eotChar)), nil
}

// RecvBlock reads a definite length block. The adapter is asked to read until
// EOI as for Recv, but the payload is taken by length so that embedded
// newlines survive.
func (c *Controller) RecvBlock() ([]byte, error) {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.bus.address(c.addrArg); err != nil {
		return nil, err
	}
	if err := c.bus.commandController("read eoi"); err != nil {
		return nil, fmt.Errorf("error sending `++read eoi` command: %w", err)
	}
	if d, ok := c.bus.rw.(interface{ SetReadDeadline(time.Time) error }); ok && c.bus.readTimeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(c.bus.readTimeout + time.Second))
	}
	b, err := block.ReadDefinite(c.bus.r)
	if err != nil {
		return nil, timeoutErr(err)
	}
	// the block's own LF is followed by the eot character
	if c.bus.r.Buffered() > 0 {
		if p, _ := c.bus.r.Peek(1); len(p) == 1 && p[0] == c.bus.eotChar {
			_, _ = c.bus.r.Discard(1)
		}
	}
	if c.bus.debug {
		log.Debugf("read %d byte block", len(b))
	}
	return b, nil
}

// Query queries the instrument using the given SCPI/ASCII command. When data
// from host is received over USB, the Prologix adapter removes all
// non-escaped LF, CR and ESC characters and appends the GPIB terminator
// before sending the data to the instrument.
func (c *Controller) Query(cmd string) (string, error) {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.send(cmd); err != nil {
		return "", fmt.Errorf("error writing command: %w", err)
	}
	return c.recv()
}

// ClearDevice sends the Selected Device Clear (SDC) message.
func (c *Controller) ClearDevice() error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.bus.address(c.addrArg); err != nil {
		return err
	}
	return c.bus.commandController("clr")
}

// FrontPanel returns the instrument to local control when local is true.
// Remote control resumes with the next command.
func (c *Controller) FrontPanel(local bool) error {
	if !local {
		return nil
	}
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	if err := c.bus.address(c.addrArg); err != nil {
		return err
	}
	return c.bus.commandController("loc")
}

// Close returns the instrument to front-panel control. The bus stays open;
// close it with Bus.Close.
func (c *Controller) Close() error {
	return c.FrontPanel(true)
}

// escape protects bytes the adapter would otherwise strip from binary data.
func escape(s string) string {
	if !strings.ContainsAny(s, "\r\n\x1b+") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\r', '\n', 0x1b, '+':
			sb.WriteByte(0x1b)
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// isPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// isSecondaryAddressValid checks that the secondary GPIB address is between 96
// and 126, inclusive.
func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}
