// Package stream implements the result stream that drives a Connection
// in Executing state: it parses the token stream into typed row
// batches, accumulates non-fatal server messages as warnings, and
// drives the attention/cancellation path back to Idle.
package stream

import (
	"sync/atomic"
	"time"

	"github.com/ha1tch/tdsclient/internal/tdserr"
	"github.com/ha1tch/tdsclient/internal/tdslog"
	"github.com/ha1tch/tdsclient/tds/codec"
	"github.com/ha1tch/tdsclient/tds/conn"
	"github.com/ha1tch/tdsclient/tds/token"
)

// State is the result stream's lifecycle phase.
type State int

const (
	StateInitializing State = iota
	StateStreaming
	StateComplete
	StateDraining
	StateError
)

// Batch is one columnar slab of decoded rows: Columns[i] names/types
// the ith position of every entry in Rows.
type Batch struct {
	Columns []codec.Column
	Rows    [][]interface{}
}

// Stream owns a Connection in Executing state for as long as it is
// non-terminal. Exactly one Stream may be active on a Connection at a
// time.
type Stream struct {
	c   *conn.Connection
	p   *token.Parser
	log tdslog.Logger

	state        State
	columns      []codec.Column
	warnings     []token.ServerMessage
	rowsAffected uint64

	cancelRequested int32 // accessed atomically

	readBuf []byte
}

const defaultReadBufSize = 16 * 1024

// New creates a Stream over a Connection that has just had ExecuteBatch
// called on it (so is in Executing state).
func New(c *conn.Connection) *Stream {
	return &Stream{
		c:       c,
		p:       token.NewParser(),
		log:     tdslog.For(tdslog.LayerConn),
		state:   StateInitializing,
		readBuf: make([]byte, defaultReadBufSize),
	}
}

// State returns the stream's current lifecycle phase.
func (s *Stream) State() State { return s.state }

// Warnings returns the non-fatal server messages accumulated so far.
func (s *Stream) Warnings() []token.ServerMessage { return s.warnings }

// RowsAffected returns the row count from the terminal DONE, valid once
// State is Complete.
func (s *Stream) RowsAffected() uint64 { return s.rowsAffected }

// Cancel requests cooperative cancellation: the next Initialize/FillBatch
// call sends an attention and drains to Idle (or forces Disconnected on
// timeout) instead of returning more rows.
func (s *Stream) Cancel() {
	atomic.StoreInt32(&s.cancelRequested, 1)
}

func (s *Stream) cancelled() bool {
	return atomic.LoadInt32(&s.cancelRequested) != 0
}

// Initialize reads tokens until column metadata arrives (entering
// Streaming) or the server short-circuits with a Done and no rows
// (entering Complete, e.g. for a non-SELECT statement).
func (s *Stream) Initialize(timeout time.Duration) error {
	if s.cancelled() {
		return s.drain(timeout)
	}
	for {
		ev, err := s.nextEvent(timeout)
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		switch {
		case ev.ColMetadata != nil:
			s.columns = ev.ColMetadata.Columns
			s.state = StateStreaming
			return nil
		case ev.Done != nil:
			if err := s.handleDone(*ev.Done); err != nil {
				return err
			}
			if s.state == StateComplete {
				return nil
			}
		case ev.ServerMessage != nil:
			if err := s.handleServerMessage(*ev.ServerMessage); err != nil {
				return err
			}
		}
	}
}

// FillBatch pulls up to maxRows decoded rows into a new Batch. It
// returns a batch with fewer rows than maxRows (possibly zero) when the
// stream reaches Complete, Draining, or a need-more-data boundary with
// partial progress already made — callers should keep calling FillBatch
// until State() is terminal.
func (s *Stream) FillBatch(maxRows int, timeout time.Duration) (*Batch, error) {
	if s.state != StateStreaming {
		return nil, tdserr.New(tdserr.KindState, tdserr.ErrCodeInvalidState, tdslog.LayerConn,
			"fill_batch called outside Streaming state")
	}
	if s.cancelled() {
		return &Batch{Columns: s.columns}, s.drain(timeout)
	}

	batch := &Batch{Columns: s.columns}
	for len(batch.Rows) < maxRows {
		ev, err := s.nextEventNonBlocking(timeout)
		if err != nil {
			if err == token.ErrNeedMoreData {
				return batch, nil
			}
			return batch, err
		}
		if ev == nil {
			continue
		}
		switch {
		case ev.Row != nil:
			batch.Rows = append(batch.Rows, ev.Row.Values)
		case ev.ColMetadata != nil:
			s.columns = ev.ColMetadata.Columns
			batch.Columns = s.columns
		case ev.Done != nil:
			if err := s.handleDone(*ev.Done); err != nil {
				return batch, err
			}
			if s.state != StateStreaming {
				return batch, nil
			}
		case ev.ServerMessage != nil:
			if err := s.handleServerMessage(*ev.ServerMessage); err != nil {
				return batch, err
			}
		}
		if s.cancelled() {
			return batch, s.drain(timeout)
		}
	}
	return batch, nil
}

func (s *Stream) handleDone(d token.Done) error {
	if d.HasError() {
		s.state = StateError
		return tdserr.New(tdserr.KindServer, tdserr.ErrCodeServerError, tdslog.LayerConn, "batch failed (DONE error status)")
	}
	if d.HasCount() {
		s.rowsAffected = d.RowCount
	}
	if d.IsFinal() {
		s.state = StateComplete
		s.c.DrainComplete()
	}
	return nil
}

func (s *Stream) handleServerMessage(m token.ServerMessage) error {
	if !m.IsError {
		s.warnings = append(s.warnings, m)
		return nil
	}
	if m.Class >= 20 {
		s.state = StateError
		s.c.MarkFatal()
		return tdserr.Server(m.Number, m.State, m.Class, m.Message, m.ProcName, m.LineNumber)
	}
	s.warnings = append(s.warnings, m)
	return nil
}

// nextEvent blocks on receive_data until a token decodes or a fatal
// error occurs; unlike nextEventNonBlocking it never returns
// ErrNeedMoreData to the caller.
func (s *Stream) nextEvent(timeout time.Duration) (*token.Event, error) {
	for {
		ev, err := s.nextEventNonBlocking(timeout)
		if err == token.ErrNeedMoreData {
			continue
		}
		return ev, err
	}
}

func (s *Stream) nextEventNonBlocking(timeout time.Duration) (*token.Event, error) {
	ev, err := s.p.TryParseNext()
	if err == nil || err != token.ErrNeedMoreData {
		return ev, err
	}

	n, rerr := s.c.ReceiveData(s.readBuf, timeout)
	if rerr != nil {
		s.state = StateError
		return nil, rerr
	}
	if n > 0 {
		s.p.Feed(s.readBuf[:n])
	}
	return s.p.TryParseNext()
}

// drain implements the cancellation path: send_attention, then consume
// the token stream in skip mode until the attention-acknowledgment DONE
// arrives, bounded by a drain deadline.
func (s *Stream) drain(deadline time.Duration) error {
	s.state = StateDraining
	s.p.SetSkipMode(true)

	if s.c.State() == conn.StateExecuting {
		if err := s.c.SendAttention(); err != nil {
			s.state = StateError
			return err
		}
	}

	if err := s.c.WaitForAttentionAck(s.p, deadline); err != nil {
		s.state = StateError
		return err
	}
	s.state = StateComplete
	return nil
}
