// Package stream accepts scoring requests over a WebSocket connection.
//
// Each connection owns a bounded queue. Frames that arrive while the queue is
// full are answered with a rejected frame instead of blocking the reader.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Frame types.
const (
	TypeTransaction = "transaction"
	TypeBiometric   = "biometric"
	TypeResult      = "result"
	TypeError       = "error"
	TypeRejected    = "rejected"
)

// Rejection reasons.
const (
	ReasonQueueFull = "queue_full"
	ReasonBadFrame  = "bad_frame"
	ReasonUnknown   = "unknown_type"
)

// TenantHeader carries the tenant on the upgrade request. Browsers cannot set
// headers on WebSocket upgrades, so ?tenant= is accepted too.
const TenantHeader = "X-Tenant-ID"

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// Scorer is the part of the engine a stream needs.
type Scorer interface {
	ScoreTransaction(ctx context.Context, tenantID string, rec *domain.TransactionRecord) (*engine.Scored, error)
	ScoreBiometric(ctx context.Context, tenantID string, sample *domain.BiometricSample) (*engine.Scored, error)
}

// Request is an inbound frame.
type Request struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Response is an outbound frame.
type Response struct {
	Type   string                 `json:"type"`
	Ref    string                 `json:"ref,omitempty"`
	Result *domain.EnsembleResult `json:"result,omitempty"`
	Alert  *domain.Alert          `json:"alert,omitempty"`
	Reason string                 `json:"reason,omitempty"`
	Field  string                 `json:"field,omitempty"`
}

// Handler upgrades HTTP requests and serves scoring streams.
type Handler struct {
	scorer     Scorer
	cfg        domain.StreamConfig
	collectors *metrics.Collectors
	upgrader   websocket.Upgrader

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool

	accepted atomic.Int64
	rejected atomic.Int64
}

// NewHandler creates a stream handler. collectors may be nil.
func NewHandler(scorer Scorer, cfg domain.StreamConfig, collectors *metrics.Collectors) *Handler {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Handler{
		scorer:     scorer,
		cfg:        cfg,
		collectors: collectors,
		conns:      make(map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return origin == "http://"+r.Host || origin == "https://"+r.Host
			},
		},
	}
}

// Stats reports connection and frame counters.
func (h *Handler) Stats() map[string]int64 {
	h.mu.Lock()
	open := int64(len(h.conns))
	h.mu.Unlock()
	return map[string]int64{
		"connections": open,
		"accepted":    h.accepted.Load(),
		"rejected":    h.rejected.Load(),
	}
}

// ServeHTTP upgrades the request and blocks until the stream ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(TenantHeader)
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant")
	}
	if err := domain.ValidateTenantID(tenantID); err != nil {
		body, _ := json.Marshal(map[string]string{"error": err.Error()})
		http.Error(w, string(body), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, `{"error":"server shutting down"}`, http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "tenant_id", tenantID, "error", err)
		return
	}

	// The request context ends when ServeHTTP returns, so the stream gets its own.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{
		h:        h,
		ws:       ws,
		tenantID: tenantID,
		queue:    make(chan Request, h.cfg.QueueSize),
		send:     make(chan Response, h.cfg.QueueSize+1),
		ctx:      ctx,
		cancel:   cancel,
	}
	if !h.track(c) {
		cancel()
		_ = ws.Close()
		return
	}
	defer h.untrack(c)

	h.collectors.StreamOpened()
	defer h.collectors.StreamClosed()
	slog.Info("stream opened", "tenant_id", tenantID, "remote", r.RemoteAddr)

	c.serve()
	slog.Info("stream closed", "tenant_id", tenantID, "remote", r.RemoteAddr)
}

// Close ends every open stream. New upgrades are refused afterwards.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.cancel()
	}
}

func (h *Handler) track(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

type conn struct {
	h        *Handler
	ws       *websocket.Conn
	tenantID string
	queue    chan Request
	send     chan Response
	ctx      context.Context
	cancel   context.CancelFunc
}

// serve runs the processor and writer, and reads on the calling goroutine.
func (c *conn) serve() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.process()
	}()
	go func() {
		defer wg.Done()
		c.write()
	}()

	c.read()
	c.cancel()
	wg.Wait()
	_ = c.ws.Close()
}

func (c *conn) read() {
	cfg := c.h.cfg
	readTimeout := 2 * cfg.PingInterval
	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) && c.ctx.Err() == nil {
				slog.Warn("websocket read error", "tenant_id", c.tenantID, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.reject("", ReasonBadFrame)
			continue
		}
		if req.Type != TypeTransaction && req.Type != TypeBiometric {
			c.reject(req.Ref, ReasonUnknown)
			continue
		}

		select {
		case c.queue <- req:
			c.h.accepted.Add(1)
		default:
			c.reject(req.Ref, ReasonQueueFull)
		}
	}
}

func (c *conn) reject(ref, reason string) {
	c.h.rejected.Add(1)
	c.h.collectors.StreamRejection(reason)
	c.emit(Response{Type: TypeRejected, Ref: ref, Reason: reason})
}

// emit blocks until the writer takes the frame or the stream ends.
func (c *conn) emit(resp Response) {
	select {
	case c.send <- resp:
	case <-c.ctx.Done():
	}
}

func (c *conn) process() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case req := <-c.queue:
			c.emit(c.score(req))
		}
	}
}

func (c *conn) score(req Request) Response {
	var (
		scored *engine.Scored
		err    error
	)
	switch req.Type {
	case TypeTransaction:
		var body domain.TransactionRequest
		if err = json.Unmarshal(req.Payload, &body); err != nil {
			return Response{Type: TypeError, Ref: req.Ref, Reason: "invalid payload"}
		}
		rec, verr := body.ToRecord()
		if verr != nil {
			return errorResponse(req.Ref, verr)
		}
		scored, err = c.h.scorer.ScoreTransaction(c.ctx, c.tenantID, rec)
	case TypeBiometric:
		var sample domain.BiometricSample
		if err = json.Unmarshal(req.Payload, &sample); err != nil {
			return Response{Type: TypeError, Ref: req.Ref, Reason: "invalid payload"}
		}
		scored, err = c.h.scorer.ScoreBiometric(c.ctx, c.tenantID, &sample)
	}
	if err != nil {
		return errorResponse(req.Ref, err)
	}
	return Response{Type: TypeResult, Ref: req.Ref, Result: scored.Result, Alert: scored.Alert}
}

func errorResponse(ref string, err error) Response {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return Response{Type: TypeError, Ref: ref, Reason: verr.Reason, Field: verr.Field}
	}
	slog.Error("stream scoring failed", "ref", ref, "error", err)
	return Response{Type: TypeError, Ref: ref, Reason: "internal error"}
}

func (c *conn) write() {
	ticker := time.NewTicker(c.h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.cfg.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			// Unblock the reader if the peer never answers the close.
			_ = c.ws.SetReadDeadline(time.Now())
			return

		case resp := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(resp); err != nil {
				slog.Warn("websocket write error", "tenant_id", c.tenantID, "error", err)
				c.cancel()
				_ = c.ws.SetReadDeadline(time.Now())
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("websocket ping failed", "tenant_id", c.tenantID, "error", err)
				c.cancel()
				_ = c.ws.SetReadDeadline(time.Now())
				return
			}
		}
	}
}
