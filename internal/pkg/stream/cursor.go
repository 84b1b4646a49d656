// Package stream runs compiled pattern sets over chunked byte streams.
// Each cursor tracks one logical stream: it holds the current automaton
// state and absolute offset, consumes chunks in order, and reports
// detections as patterns complete. Memory per cursor is constant no
// matter how much data flows through it.
package stream

import (
	"errors"

	"github.com/streamregex/streamregex/internal/pkg/automaton"
	"github.com/streamregex/streamregex/internal/pkg/prefilter"
	"github.com/streamregex/streamregex/internal/pkg/registry"
)

// ErrCursorClosed is returned when feeding a closed cursor.
var ErrCursorClosed = errors.New("cursor is closed")

// Detection is one pattern completion on a stream.
type Detection struct {
	// PatternID is the pattern's identifier in its set.
	PatternID string

	// End is the absolute stream offset one past the last matched byte.
	End int64

	// Start is the start offset of the shortest match ending at End.
	Start int64

	// StartMin is the earliest possible start of any match ending at
	// End. Equal to Start for fixed-length patterns.
	StartMin int64

	// SetVersion identifies the pattern set version that produced the
	// detection.
	SetVersion string
}

// Cursor is the matching state for one stream. Not safe for concurrent
// use; one stream, one goroutine.
type Cursor struct {
	handle *registry.Handle
	auto   *automaton.Automaton
	pf     *prefilter.Session

	state  int32
	offset int64
	seen   []bool
	closed bool
	buf    []Detection
}

// Open binds a new cursor to the pattern set pinned by h. The cursor
// holds its own reference; h stays valid for the caller. The set version
// is fixed for the life of the cursor even if newer versions are
// installed.
func Open(h *registry.Handle) *Cursor {
	own := h.Acquire()
	set := own.Set()
	return &Cursor{
		handle: own,
		auto:   set.Automaton,
		pf:     set.Plan.NewSession(),
		state:  set.Automaton.Start(),
		seen:   make([]bool, set.Automaton.PatternCount()),
	}
}

// OpenCurrent opens a cursor against the registry's current set.
func OpenCurrent(r *registry.Registry) (*Cursor, error) {
	h, err := r.Current()
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return Open(h), nil
}

// Offset returns the absolute number of bytes consumed so far.
func (c *Cursor) Offset() int64 { return c.offset }

// SetVersion returns the version of the pinned pattern set.
func (c *Cursor) SetVersion() string { return c.handle.Set().Version }

// Feed consumes the next chunk and returns detections completing inside
// it, ordered by nondecreasing End. The returned slice is reused by the
// next Feed or Close call.
func (c *Cursor) Feed(chunk []byte) ([]Detection, error) {
	c.buf = c.buf[:0]
	err := c.FeedTo(chunk, func(d Detection) {
		c.buf = append(c.buf, d)
	})
	if err != nil {
		return nil, err
	}
	return c.buf, nil
}

// FeedTo consumes the next chunk, calling emit for each detection in
// End order. Results are identical for any chunking of the same byte
// sequence.
func (c *Cursor) FeedTo(chunk []byte, emit func(Detection)) error {
	if c.closed {
		return ErrCursorClosed
	}

	auto := c.auto
	loopStart := auto.LoopStart()
	dead := auto.Dead()
	state := c.state

	if state == dead {
		// Dead is absorbing; the rest of the stream cannot match.
		c.offset += int64(len(chunk))
		return nil
	}

	// One prefilter pass per chunk, shared by every skip query below.
	c.pf.Begin(chunk)

	i := 0
	for i < len(chunk) {
		if state == dead {
			c.offset += int64(len(chunk) - i)
			c.state = state
			return nil
		}
		if state == loopStart {
			if n := c.pf.Skip(chunk, i); n > 0 {
				i += n
				c.offset += int64(n)
				continue
			}
		}

		state = auto.Next(state, chunk[i])
		i++
		c.offset++

		for _, acc := range auto.Accepts(state) {
			c.emit(acc, emit)
		}
	}

	c.state = state
	return nil
}

// Close ends the stream. End-anchored patterns whose match runs to the
// final byte are reported here, at the stream's total length. The
// cursor's reference to its pattern set is released; further feeds fail
// with ErrCursorClosed.
func (c *Cursor) Close() ([]Detection, error) {
	if c.closed {
		return nil, ErrCursorClosed
	}
	c.closed = true

	c.buf = c.buf[:0]
	for _, acc := range c.auto.EOSAccepts(c.state) {
		c.emit(acc, func(d Detection) {
			c.buf = append(c.buf, d)
		})
	}

	c.handle.Release()
	return c.buf, nil
}

// emit applies per-pattern suppression and offset reconstruction.
func (c *Cursor) emit(acc automaton.Accept, fn func(Detection)) {
	if c.auto.Pattern(int(acc.Pattern)).Flags.FirstMatchOnly {
		if c.seen[acc.Pattern] {
			return
		}
		c.seen[acc.Pattern] = true
	}

	end := c.offset
	start := end - int64(acc.MinLen)
	startMin := int64(0)
	if acc.MaxLen >= 0 {
		if startMin = end - int64(acc.MaxLen); startMin < 0 {
			startMin = 0
		}
	}
	fn(Detection{
		PatternID:  c.auto.Pattern(int(acc.Pattern)).ID,
		End:        end,
		Start:      start,
		StartMin:   startMin,
		SetVersion: c.handle.Set().Version,
	})
}
