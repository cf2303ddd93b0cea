package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/config"
	"toolgate/internal/observability"
)

// TCP serves remote peers over length-prefixed JSON: a 4-byte big-endian
// payload length followed by one UTF-8 JSON document. Each accepted
// connection gets its own session and goroutine.
type TCP struct {
	handler  Handler
	cfg      config.TCPConfig
	maxFrame int
	metrics  *observability.Metrics
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewTCP wires the TCP listener. maxFrame bounds one frame; metrics may be
// nil.
func NewTCP(handler Handler, cfg config.TCPConfig, maxFrame int, metrics *observability.Metrics, logger *zap.SugaredLogger) *TCP {
	return &TCP{
		handler:  handler,
		cfg:      cfg,
		maxFrame: maxFrame,
		metrics:  metrics,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Name identifies the transport.
func (t *TCP) Name() string { return NameTCP }

// Addr returns the bound listener address, nil before Start.
func (t *TCP) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Start listens and serves connections until ctx is cancelled or Stop runs.
func (t *TCP) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.cfg.Addr())
	if err != nil {
		return fmt.Errorf("tcp listen on %s: %w", t.cfg.Addr(), err)
	}
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()

	t.logger.Infow("tcp transport listening", "addr", ln.Addr().String())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-done:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			return fmt.Errorf("tcp accept: %w", err)
		}
		t.track(conn)
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.serve(ctx, conn)
		}()
	}

	t.wg.Wait()
	t.logger.Info("tcp transport stopped")
	return nil
}

// Stop closes the listener and every live connection.
func (t *TCP) Stop() error {
	t.mu.Lock()
	ln := t.listener
	conns := make([]net.Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

func (t *TCP) track(conn net.Conn) {
	t.mu.Lock()
	t.conns[conn] = struct{}{}
	t.mu.Unlock()
}

func (t *TCP) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
}

// serve reads frames from one peer until the connection dies. A parse error
// goes back as -32700 and the connection stays; an oversize announcement or
// a deadline hit closes the peer.
func (t *TCP) serve(ctx context.Context, conn net.Conn) {
	defer func() {
		t.untrack(conn)
		_ = conn.Close()
	}()

	sess := t.handler.NewSession()
	remote := conn.RemoteAddr().String()
	t.logger.Infow("client connected", "conn", sess.ConnID(), "remote", remote)
	if t.metrics != nil {
		t.metrics.ConnectionOpened(NameTCP)
		defer t.metrics.ConnectionClosed(NameTCP)
	}

	for {
		if rt := t.cfg.ReadTimeout(); rt > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(rt))
		}
		frame, err := readFrame(conn, t.maxFrame)
		if err != nil {
			t.logReadEnd(sess.ConnID(), remote, err)
			return
		}
		if t.metrics != nil {
			t.metrics.RecordFrame(NameTCP, "in")
		}

		reply, respond := t.handler.HandleRaw(ctx, sess, frame)
		if !respond {
			continue
		}
		if wt := t.cfg.WriteTimeout(); wt > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(wt))
		}
		if err := writeFrame(conn, reply); err != nil {
			t.logger.Warnw("write failed, dropping client",
				"conn", sess.ConnID(), "remote", remote, "error", err)
			return
		}
		if t.metrics != nil {
			t.metrics.RecordFrame(NameTCP, "out")
		}
	}
}

func (t *TCP) logReadEnd(connID, remote string, err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		t.logger.Infow("client disconnected", "conn", connID, "remote", remote)
	case errors.Is(err, ErrFrameTooLarge):
		t.logger.Warnw("dropping client, frame too large",
			"conn", connID, "remote", remote, "error", err)
	default:
		t.logger.Warnw("dropping client, read failed",
			"conn", connID, "remote", remote, "error", err)
	}
}

// readFrame reads one length-prefixed frame. The length is validated before
// the payload is read, so an oversize announcement never allocates.
func readFrame(r io.Reader, maxFrame int) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if int(size) > maxFrame {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, maxFrame)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}

// writeFrame writes header and payload as a single Write so frames never
// interleave mid-stream.
func writeFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	_, err := w.Write(frame)
	return err
}

var _ Transport = (*TCP)(nil)
