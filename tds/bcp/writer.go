// Package bcp implements the bulk-load writer: a thread-safe
// accumulator that builds COLMETADATA/ROW/DONE tokens for the
// bulk-load packet type and drains the server's post-flush
// acknowledgment.
package bcp

import (
	"strings"
	"sync"
	"time"

	"github.com/ha1tch/tdsclient/internal/tdserr"
	"github.com/ha1tch/tdsclient/internal/tdslog"
	"github.com/ha1tch/tdsclient/tds/codec"
	"github.com/ha1tch/tdsclient/tds/conn"
	"github.com/ha1tch/tdsclient/tds/token"
)

// Options configures a Writer's flush behavior.
type Options struct {
	// StrictRowCount turns a server-acknowledged row count that
	// disagrees with what was sent into a fatal flush error instead of
	// a logged warning.
	StrictRowCount bool

	FlushTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 30 * time.Second
	}
}

// Writer accumulates one bulk-load batch at a time on a pinned
// connection and flushes it as a logical bulk-load message.
type Writer struct {
	c       *conn.Connection
	target  string
	columns []codec.Column
	mapping []string
	opts    Options
	log     tdslog.Logger

	mu              sync.Mutex
	buf             []byte
	colMetadataSent bool
	rowCount        uint64
}

// New creates a Writer targeting the given table and column schema on
// the given connection. mapping, if non-nil, names the source columns
// in row order (for a column count or order that differs from the
// table's own); if nil, columns are assumed to already be in target
// order. The connection must be Idle; Prepare must be called once
// before the first WriteColumnMetadata, and again before each
// subsequent batch.
func New(c *conn.Connection, target string, columns []codec.Column, mapping []string, opts Options) *Writer {
	opts.setDefaults()
	return &Writer{
		c:       c,
		target:  target,
		columns: columns,
		mapping: mapping,
		opts:    opts,
		log:     tdslog.For(tdslog.LayerBCP),
	}
}

// Prepare sends the server's "prepare for bulk load" statement
// (INSERT BULK) naming the target table and column list, and drains
// the resulting DONE. Must be called before the first
// WriteColumnMetadata of every batch, including the first.
func (w *Writer) Prepare(timeout time.Duration) error {
	stmt := w.buildInsertBulkStatement()
	if err := w.c.ExecuteBatch(stmt); err != nil {
		return err
	}
	return w.drainPrepareResponse(timeout)
}

func (w *Writer) buildInsertBulkStatement() string {
	var b strings.Builder
	b.WriteString("INSERT BULK ")
	b.WriteString(w.target)
	b.WriteString(" (")
	for i, col := range w.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		name := col.Name
		if w.mapping != nil && i < len(w.mapping) {
			name = w.mapping[i]
		}
		b.WriteString("[")
		b.WriteString(name)
		b.WriteString("] ")
		b.WriteString(columnTypeDDL(col))
	}
	b.WriteString(")")
	return b.String()
}

func (w *Writer) drainPrepareResponse(timeout time.Duration) error {
	p := token.NewParser()
	buf := make([]byte, 4096)
	budget := timeout
	for {
		start := time.Now()
		n, err := w.c.ReceiveData(buf, budget)
		if err != nil {
			return err
		}
		if n > 0 {
			p.Feed(buf[:n])
		}
		for {
			ev, perr := p.TryParseNext()
			if perr == token.ErrNeedMoreData {
				break
			}
			if perr != nil {
				return tdserr.Wrap(perr, tdserr.KindProtocol, tdserr.ErrCodeTokenMalformed, tdslog.LayerBCP, "parse prepare response")
			}
			if ev == nil {
				continue
			}
			if ev.ServerMessage != nil && ev.ServerMessage.IsError {
				return tdserr.Server(ev.ServerMessage.Number, ev.ServerMessage.State, ev.ServerMessage.Class,
					ev.ServerMessage.Message, ev.ServerMessage.ProcName, ev.ServerMessage.LineNumber)
			}
			if ev.Done != nil && ev.Done.IsFinal() {
				if ev.Done.HasError() {
					return tdserr.New(tdserr.KindServer, tdserr.ErrCodeServerError, tdslog.LayerBCP, "prepare for bulk load failed (DONE error status)")
				}
				w.c.DrainComplete()
				return nil
			}
		}
		budget -= time.Since(start)
		if budget <= 0 {
			w.c.MarkFatal()
			return tdserr.New(tdserr.KindTimeout, tdserr.ErrCodeConnectionTimeout, tdslog.LayerBCP, "prepare-for-bulk-load deadline exceeded")
		}
	}
}

// WriteColumnMetadata appends the COLMETADATA token. Must happen
// exactly once per batch, before any WriteRows call.
func (w *Writer) WriteColumnMetadata() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.colMetadataSent {
		return tdserr.New(tdserr.KindState, tdserr.ErrCodeInvalidState, tdslog.LayerBCP,
			"write_column_metadata called twice in one batch")
	}
	w.buf = append(w.buf, byte(token.TypeColMetadata))
	w.buf = append(w.buf, token.EncodeColMetadata(w.columns)...)
	w.colMetadataSent = true
	return nil
}

// WriteRows appends one ROW token per input row. Safe for concurrent
// callers.
func (w *Writer) WriteRows(rows [][]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.colMetadataSent {
		return tdserr.New(tdserr.KindState, tdserr.ErrCodeInvalidState, tdslog.LayerBCP,
			"write_rows called before write_column_metadata")
	}
	for _, row := range rows {
		body, err := token.EncodeRow(w.columns, row)
		if err != nil {
			return err
		}
		w.buf = append(w.buf, byte(token.TypeRow))
		w.buf = append(w.buf, body...)
		w.rowCount++
	}
	return nil
}

// FlushBatch appends a DONE token (count-valid, INSERT command),
// fragments the accumulator into bulk-load packets, sends them, and
// reads the server's acknowledgment. The server's row count is
// expected to match what was written; a mismatch is a logged warning
// unless Options.StrictRowCount is set, in which case it's a fatal
// flush error. Returns the connection to Idle on success.
func (w *Writer) FlushBatch() error {
	w.mu.Lock()
	if !w.colMetadataSent {
		w.mu.Unlock()
		return tdserr.New(tdserr.KindState, tdserr.ErrCodeInvalidState, tdslog.LayerBCP,
			"flush_batch called without write_column_metadata")
	}
	sentRowCount := w.rowCount
	payload := append(w.buf, byte(token.TypeDone))
	payload = append(payload, token.EncodeDone(doneCountValid|doneInsert, 0xC1, sentRowCount)...)
	w.mu.Unlock()

	if err := w.c.ExecuteBulkLoad(payload); err != nil {
		return err
	}

	ackRowCount, err := w.readAck()
	if err != nil {
		return err
	}
	if ackRowCount != sentRowCount {
		w.log.Warn("bulk-load row count mismatch", "sent", sentRowCount, "acknowledged", ackRowCount)
		if w.opts.StrictRowCount {
			return tdserr.Newf(tdserr.KindProtocol, tdserr.ErrCodeBCPRowCountMismatch, tdslog.LayerBCP,
				"bulk-load flush: sent %d rows, server acknowledged %d", sentRowCount, ackRowCount)
		}
	}

	w.resetLocked()
	return nil
}

// ResetForNextBatch clears the accumulator (retaining its capacity) and
// the per-batch row counter and metadata-sent flag, without a flush.
// Use when abandoning a partially-built batch.
func (w *Writer) ResetForNextBatch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
}

func (w *Writer) resetLocked() {
	w.buf = w.buf[:0]
	w.colMetadataSent = false
	w.rowCount = 0
}

const (
	doneCountValid uint16 = 0x0010
	doneInsert     uint16 = 0x0000
)

func (w *Writer) readAck() (rowCount uint64, err error) {
	p := token.NewParser()
	buf := make([]byte, 4096)
	budget := w.opts.FlushTimeout
	for {
		start := time.Now()
		n, rerr := w.c.ReceiveData(buf, budget)
		if rerr != nil {
			return 0, rerr
		}
		if n > 0 {
			p.Feed(buf[:n])
		}
		for {
			ev, perr := p.TryParseNext()
			if perr == token.ErrNeedMoreData {
				break
			}
			if perr != nil {
				return 0, tdserr.Wrap(perr, tdserr.KindProtocol, tdserr.ErrCodeTokenMalformed, tdslog.LayerBCP, "parse bulk-load ack")
			}
			if ev == nil {
				continue
			}
			if ev.ServerMessage != nil && ev.ServerMessage.IsError {
				return 0, tdserr.Server(ev.ServerMessage.Number, ev.ServerMessage.State, ev.ServerMessage.Class,
					ev.ServerMessage.Message, ev.ServerMessage.ProcName, ev.ServerMessage.LineNumber)
			}
			if ev.Done != nil && ev.Done.IsFinal() {
				if ev.Done.HasError() {
					return 0, tdserr.New(tdserr.KindServer, tdserr.ErrCodeServerError, tdslog.LayerBCP, "bulk-load flush failed (DONE error status)")
				}
				w.c.DrainComplete()
				return ev.Done.RowCount, nil
			}
		}
		budget -= time.Since(start)
		if budget <= 0 {
			w.c.MarkFatal()
			return 0, tdserr.New(tdserr.KindTimeout, tdserr.ErrCodeConnectionTimeout, tdslog.LayerBCP, "bulk-load ack deadline exceeded")
		}
	}
}
