package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"toolgate/internal/config"
	"toolgate/internal/observability"
)

// WS serves peers over WebSocket upgraded at /ws, one JSON document per
// text frame. The same HTTP listener exposes the hint line at /, the health
// document at /healthz, and Prometheus at /metrics.
type WS struct {
	handler  Handler
	cfg      config.WSConfig
	maxFrame int64
	metrics  *observability.Metrics
	tracing  *observability.Tracing
	health   *observability.Health
	logger   *zap.SugaredLogger

	mu         sync.Mutex
	httpServer *http.Server
}

// NewWS wires the WebSocket listener. metrics, tracing, and health may be
// nil; their endpoints and middleware are simply not mounted.
func NewWS(handler Handler, cfg config.WSConfig, maxFrame int, metrics *observability.Metrics, tracing *observability.Tracing, health *observability.Health, logger *zap.SugaredLogger) *WS {
	return &WS{
		handler:  handler,
		cfg:      cfg,
		maxFrame: int64(maxFrame),
		metrics:  metrics,
		tracing:  tracing,
		health:   health,
		logger:   logger,
	}
}

// Name identifies the transport.
func (t *WS) Name() string { return NameWS }

// Router builds the HTTP surface: /ws upgrade, / hint, /healthz, /metrics.
func (t *WS) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if t.metrics != nil {
		r.Use(t.metrics.HTTPMiddleware())
	}
	if t.tracing != nil {
		r.Use(t.tracing.HTTPMiddleware())
	}

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "toolgate WebSocket server - connect to /ws")
	})
	if t.health != nil {
		r.Get("/healthz", t.health.Handler())
	}
	if t.metrics != nil {
		r.Handle("/metrics", t.metrics.Handler())
	}
	r.Get("/ws", t.handleWS)

	return r
}

// Start serves HTTP until ctx is cancelled or Stop runs. ctx is the base
// context of every request, so cancelling it also unblocks upgraded
// connections mid-read.
func (t *WS) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              t.cfg.Addr(),
		Handler:           t.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	t.mu.Lock()
	t.httpServer = srv
	t.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		case <-done:
		}
	}()

	t.logger.Infow("websocket transport listening", "addr", t.cfg.Addr())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket listen on %s: %w", t.cfg.Addr(), err)
	}
	t.logger.Info("websocket transport stopped")
	return nil
}

// Stop shuts the HTTP server down, closing the upgrade endpoint and letting
// in-flight requests finish.
func (t *WS) Stop() error {
	t.mu.Lock()
	srv := t.httpServer
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}

// handleWS upgrades one peer and pumps its frames. The handler goroutine is
// the connection goroutine, so per-peer ordering comes for free.
func (t *WS) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		t.logger.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection torn down")

	conn.SetReadLimit(t.maxFrame)

	sess := t.handler.NewSession()
	ctx := r.Context()
	t.logger.Infow("client connected", "conn", sess.ConnID(), "remote", r.RemoteAddr)
	if t.metrics != nil {
		t.metrics.ConnectionOpened(NameWS)
		defer t.metrics.ConnectionClosed(NameWS)
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				t.logger.Infow("client disconnected", "conn", sess.ConnID())
			} else {
				t.logger.Debugw("websocket read ended", "conn", sess.ConnID(), "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			t.logger.Warnw("ignoring non-text frame", "conn", sess.ConnID(), "type", typ)
			continue
		}
		if t.metrics != nil {
			t.metrics.RecordFrame(NameWS, "in")
		}

		reply, respond := t.handler.HandleRaw(ctx, sess, data)
		if !respond {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
			t.logger.Warnw("write failed, dropping client", "conn", sess.ConnID(), "error", err)
			return
		}
		if t.metrics != nil {
			t.metrics.RecordFrame(NameWS, "out")
		}
	}
}

var _ Transport = (*WS)(nil)
