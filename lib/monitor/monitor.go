// Package monitor broadcasts scan progress to websocket clients as JSON.
package monitor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gotmc/mmwave/lib/daq"
	"github.com/gotmc/mmwave/lib/log"
	"golang.org/x/net/websocket"
)

// Event is one message on the feed.
type Event struct {
	Type string    `json:"type"` // progress, result, reading or status
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// ResultSummary is the part of a daq.Result sent to clients.
type ResultSummary struct {
	Comment   string    `json:"comment"`
	FreqMHz   []float64 `json:"freq_mhz"`
	Intensity []float64 `json:"intensity"`
	Sweeps    int       `json:"sweeps"`
	Aborted   bool      `json:"aborted"`
}

// ReadingSummary is a daq.Reading with the error flattened.
type ReadingSummary struct {
	Pressure float64 `json:"pressure"`
	Flow     float64 `json:"flow"`
	Err      string  `json:"error,omitempty"`
}

// Hub fans events out to every connected client. Slow clients lose events
// rather than stall the scan.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan Event)}
}

// Handler serves the websocket endpoint.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serve)
}

func (h *Hub) serve(ws *websocket.Conn) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.clients[ws] = ch
	h.mu.Unlock()
	log.Debugf("client %s connected", ws.Request().RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.clients, ws)
		h.mu.Unlock()
		log.Debugf("client %s gone", ws.Request().RemoteAddr)
	}()

	// clients do not talk; a read returns when they hang up
	gone := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, ws)
		close(gone)
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(ws, ev); err != nil {
				return
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish queues ev for every client.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Progress publishes a scan progress event. It has the signature of a
// daq observer.
func (h *Hub) Progress(p daq.Progress) {
	h.Publish(Event{Type: "progress", Data: p})
}

// Result publishes a finished spectrum.
func (h *Hub) Result(r daq.Result) {
	h.Publish(Event{Type: "result", Data: ResultSummary{
		Comment:   r.Entry.Comment,
		FreqMHz:   r.FreqMHz,
		Intensity: r.Intensity,
		Sweeps:    r.Sweeps,
		Aborted:   r.Aborted,
	}})
}

// Reading publishes a cell pressure and flow sample.
func (h *Hub) Reading(r daq.Reading) {
	s := ReadingSummary{Pressure: r.Pressure, Flow: r.Flow}
	if r.Err != nil {
		s.Err = r.Err.Error()
	}
	h.Publish(Event{Type: "reading", Data: s})
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ws, ch := range h.clients {
		close(ch)
		delete(h.clients, ws)
	}
}

// ListenAndServe serves the hub on addr until ctx is done.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", h.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Printf("progress feed on ws://%s/", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	h.Close()
	sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
