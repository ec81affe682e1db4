// Copyright (c) 2024–2026 The mmwave developers. All rights reserved.
// Project site: https://github.com/gotmc/mmwave
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package mmwave

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// InterfaceType is the transport named by a resource string.
type InterfaceType int

const (
	GPIB InterfaceType = iota
	TCPIP
	ASRL
)

func (t InterfaceType) String() string {
	switch t {
	case GPIB:
		return "GPIB"
	case TCPIP:
		return "TCPIP"
	case ASRL:
		return "ASRL"
	default:
		return fmt.Sprintf("InterfaceType(%d)", int(t))
	}
}

// Resource is a parsed VISA-style resource string. Supported forms are
//
//	GPIB[board]::primary[::secondary][::INSTR]
//	TCPIP[board]::host::port::SOCKET
//	ASRL<device>[::INSTR]
type Resource struct {
	Interface InterfaceType
	Board     int
	Primary   int
	Secondary int // zero when unset
	Host      string
	Port      int
	Device    string
}

// ParseResource parses and validates a resource string.
func ParseResource(s string) (Resource, error) {
	var r Resource
	parts := strings.Split(strings.TrimSpace(s), "::")
	head := strings.ToUpper(parts[0])
	bad := func(format string, a ...any) (Resource, error) {
		return Resource{}, fmt.Errorf("%w %q: %s", ErrInvalidResource, s, fmt.Sprintf(format, a...))
	}
	board := func(prefix string) (int, error) {
		num := parts[0][len(prefix):]
		if num == "" {
			return 0, nil
		}
		return strconv.Atoi(num)
	}
	var err error

	switch {
	case strings.HasPrefix(head, "GPIB"):
		r.Interface = GPIB
		if r.Board, err = board("GPIB"); err != nil {
			return bad("board number")
		}
		fields := parts[1:]
		if n := len(fields); n > 0 && strings.EqualFold(fields[n-1], "INSTR") {
			fields = fields[:n-1]
		}
		if len(fields) < 1 || len(fields) > 2 {
			return bad("want primary and optional secondary address")
		}
		if r.Primary, err = strconv.Atoi(fields[0]); err != nil || !isPrimaryAddressValid(r.Primary) {
			return bad("primary address must be 0-30")
		}
		if len(fields) == 2 {
			if r.Secondary, err = strconv.Atoi(fields[1]); err != nil || !isSecondaryAddressValid(r.Secondary) {
				return bad("secondary address must be 96-126")
			}
		}
	case strings.HasPrefix(head, "TCPIP"):
		r.Interface = TCPIP
		if r.Board, err = board("TCPIP"); err != nil {
			return bad("board number")
		}
		if len(parts) != 4 || !strings.EqualFold(parts[3], "SOCKET") {
			return bad("want TCPIP::host::port::SOCKET")
		}
		r.Host = parts[1]
		if r.Host == "" {
			return bad("missing host")
		}
		if r.Port, err = strconv.Atoi(parts[2]); err != nil || r.Port < 1 || r.Port > 65535 {
			return bad("port must be 1-65535")
		}
	case strings.HasPrefix(head, "ASRL"):
		r.Interface = ASRL
		if len(parts) > 2 || (len(parts) == 2 && !strings.EqualFold(parts[1], "INSTR")) {
			return bad("want ASRL<device>::INSTR")
		}
		r.Device = parts[0][len("ASRL"):]
		if r.Device == "" {
			return bad("missing device")
		}
		if n, err := strconv.Atoi(r.Device); err == nil {
			r.Device = "COM" + strconv.Itoa(n)
		}
	default:
		return bad("unknown interface type")
	}
	return r, nil
}

// String formats the resource in canonical form.
func (r Resource) String() string {
	switch r.Interface {
	case GPIB:
		if r.Secondary != 0 {
			return fmt.Sprintf("GPIB%d::%d::%d::INSTR", r.Board, r.Primary, r.Secondary)
		}
		return fmt.Sprintf("GPIB%d::%d::INSTR", r.Board, r.Primary)
	case TCPIP:
		return fmt.Sprintf("TCPIP%d::%s::%d::SOCKET", r.Board, r.Host, r.Port)
	case ASRL:
		return fmt.Sprintf("ASRL%s::INSTR", r.Device)
	}
	return "?"
}

// ResourceManager opens handles by resource string. It owns the Prologix
// adapters behind the GPIB boards and closes them in Close.
type ResourceManager struct {
	mu       sync.Mutex
	adapters map[int]adapter
	buses    map[int]*Bus
	sockOpts []SocketOption
	timeout  time.Duration
}

type adapter struct {
	addr string
	opts []BusOption
}

// ManagerOption configures a ResourceManager.
type ManagerOption func(*ResourceManager)

// WithPrologix assigns a Prologix adapter to a GPIB board. addr is a serial
// device path for GPIB-USB or "host[:port]" for GPIB-ETHERNET.
func WithPrologix(board int, addr string, opts ...BusOption) ManagerOption {
	return func(rm *ResourceManager) {
		rm.adapters[board] = adapter{addr: addr, opts: opts}
	}
}

// WithSocketOptions sets the options applied to every TCPIP socket.
func WithSocketOptions(opts ...SocketOption) ManagerOption {
	return func(rm *ResourceManager) { rm.sockOpts = opts }
}

// NewResourceManager creates a manager. Adapters are opened lazily.
func NewResourceManager(opts ...ManagerOption) *ResourceManager {
	rm := ResourceManager{
		adapters: make(map[int]adapter),
		buses:    make(map[int]*Bus),
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(&rm)
	}
	return &rm
}

// OpenOption adjusts how a single resource is opened.
type OpenOption func(*openConfig)

type openConfig struct {
	serial SerialConfig
	clear  bool
}

// SerialSettings overrides DefaultSerialConfig for an ASRL resource.
func SerialSettings(cfg SerialConfig) OpenOption {
	return func(c *openConfig) { c.serial = cfg }
}

// ClearOnOpen sends Selected Device Clear to a GPIB instrument when opened.
func ClearOnOpen() OpenOption {
	return func(c *openConfig) { c.clear = true }
}

// Open parses name and opens a handle to it.
func (rm *ResourceManager) Open(ctx context.Context, name string, opts ...OpenOption) (Handle, error) {
	res, err := ParseResource(name)
	if err != nil {
		return nil, err
	}
	return rm.OpenResource(ctx, res, opts...)
}

// OpenResource opens a handle to an already parsed resource.
func (rm *ResourceManager) OpenResource(ctx context.Context, res Resource, opts ...OpenOption) (Handle, error) {
	cfg := openConfig{serial: DefaultSerialConfig}
	for _, opt := range opts {
		opt(&cfg)
	}
	switch res.Interface {
	case GPIB:
		bus, err := rm.bus(ctx, res.Board)
		if err != nil {
			return nil, err
		}
		var copts []ControllerOption
		if res.Secondary != 0 {
			copts = append(copts, WithSecondaryAddress(res.Secondary))
		}
		return bus.Controller(res.Primary, cfg.clear, copts...)
	case TCPIP:
		return DialSocket(ctx, net.JoinHostPort(res.Host, strconv.Itoa(res.Port)), rm.sockOpts...)
	case ASRL:
		return OpenSerial(res.Device, cfg.serial)
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidResource, res.Interface)
}

func (rm *ResourceManager) bus(ctx context.Context, board int) (*Bus, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if b, ok := rm.buses[board]; ok {
		return b, nil
	}
	ad, ok := rm.adapters[board]
	if !ok {
		return nil, fmt.Errorf("no Prologix adapter configured for GPIB%d", board)
	}
	rw, err := openAdapter(ctx, ad.addr, rm.timeout)
	if err != nil {
		return nil, err
	}
	b, err := NewBus(rw, ad.opts...)
	if err != nil {
		return nil, multierr.Append(err, rw.Close())
	}
	rm.buses[board] = b
	return b, nil
}

// openAdapter dials a GPIB-ETHERNET (default port 1234) or opens the virtual
// COM port of a GPIB-USB.
func openAdapter(ctx context.Context, addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
	if isNetAddr(addr) {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, "1234")
		}
		var d net.Dialer
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial Prologix %s: %w", addr, err)
		}
		return conn, nil
	}
	return OpenPort(addr, SerialConfig{
		Baud:        115200, // ignored by the FTDI VCP, required by AR488
		DataBits:    8,
		StopBits:    DefaultSerialConfig.StopBits,
		ReadTimeout: timeout,
	})
}

func isNetAddr(addr string) bool {
	if strings.HasPrefix(addr, "/") || strings.HasPrefix(strings.ToUpper(addr), "COM") {
		return false
	}
	return strings.Contains(addr, ".") || strings.Contains(addr, ":")
}

// ListResources returns the serial ports as ASRL resources followed by the
// configured GPIB boards.
func (rm *ResourceManager) ListResources() ([]string, error) {
	ports, err := SerialPorts()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range ports {
		out = append(out, Resource{Interface: ASRL, Device: p}.String())
	}
	rm.mu.Lock()
	boards := make([]int, 0, len(rm.adapters))
	for b := range rm.adapters {
		boards = append(boards, b)
	}
	rm.mu.Unlock()
	sort.Ints(boards)
	for _, b := range boards {
		out = append(out, fmt.Sprintf("GPIB%d::INTFC", b))
	}
	return out, nil
}

// Close closes every adapter opened by the manager.
func (rm *ResourceManager) Close() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	var err error
	for board, b := range rm.buses {
		err = multierr.Append(err, b.Close())
		delete(rm.buses, board)
	}
	return err
}
