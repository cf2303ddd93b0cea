package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"toolgate/internal/observability"
	"toolgate/internal/protocol"
)

// Stdio serves a single peer over stdin/stdout, one JSON document per line.
// Operator logging must go to stderr; stdout carries nothing but frames.
type Stdio struct {
	handler Handler
	in      io.Reader
	out     io.Writer
	maxLine int
	metrics *observability.Metrics
	logger  *zap.SugaredLogger

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewStdio wires the line transport. maxLine bounds one frame; metrics may
// be nil.
func NewStdio(handler Handler, in io.Reader, out io.Writer, maxLine int, metrics *observability.Metrics, logger *zap.SugaredLogger) *Stdio {
	return &Stdio{
		handler: handler,
		in:      in,
		out:     out,
		maxLine: maxLine,
		metrics: metrics,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Name identifies the transport.
func (t *Stdio) Name() string { return NameStdio }

// Start reads frames until EOF, Stop, or ctx cancellation. The reader
// goroutine hands over at most one line at a time, so dispatch order is
// read order.
func (t *Stdio) Start(ctx context.Context) error {
	sess := t.handler.NewSession()
	writer := bufio.NewWriter(t.out)

	if t.metrics != nil {
		t.metrics.ConnectionOpened(NameStdio)
		defer t.metrics.ConnectionClosed(NameStdio)
	}
	t.logger.Infow("stdio transport started", "conn", sess.ConnID())

	scanner := bufio.NewScanner(t.in)
	initial := 64 * 1024
	if t.maxLine < initial {
		// The scanner treats cap(buf) as a floor for its maximum, so a
		// smaller limit must shrink the initial buffer too.
		initial = t.maxLine
	}
	scanner.Buffer(make([]byte, initial), t.maxLine)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("stdio transport stopping")
			return nil
		case <-t.stopCh:
			t.logger.Info("stdio transport stopping")
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if errors.Is(err, bufio.ErrTooLong) {
						// The stream cannot be resynced past an unread
						// oversize line, so tell the peer why before
						// shutting down.
						t.logger.Errorw("stdin line exceeds frame limit", "limit", t.maxLine)
						t.replyOversize(writer)
						return fmt.Errorf("%w: line longer than %d bytes", ErrFrameTooLarge, t.maxLine)
					}
					if err != nil {
						t.logger.Errorw("stdin read failed", "error", err)
						return err
					}
				default:
				}
				t.logger.Info("stdin closed, stdio transport done")
				return nil
			}
			if len(line) == 0 {
				continue
			}
			if t.metrics != nil {
				t.metrics.RecordFrame(NameStdio, "in")
			}
			reply, respond := t.handler.HandleRaw(ctx, sess, line)
			if !respond {
				continue
			}
			if err := writeLine(writer, reply); err != nil {
				t.logger.Errorw("stdout write failed", "error", err)
				return err
			}
			if t.metrics != nil {
				t.metrics.RecordFrame(NameStdio, "out")
			}
		}
	}
}

// Stop unblocks Start. The blocked stdin read itself ends with the process.
func (t *Stdio) Stop() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	return nil
}

// replyOversize emits the -32700 envelope for a line the scanner refused
// to read. Best effort; the transport is ending either way.
func (t *Stdio) replyOversize(w *bufio.Writer) {
	resp := protocol.NewErrorResponse(nil, protocol.ParseError(
		fmt.Sprintf("frame exceeds %d byte limit", t.maxLine)))
	frame, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := writeLine(w, frame); err != nil {
		t.logger.Errorw("stdout write failed", "error", err)
	}
}

func writeLine(w *bufio.Writer, frame []byte) error {
	if _, err := w.Write(frame); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

var _ Transport = (*Stdio)(nil)
