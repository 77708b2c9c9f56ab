// Package mgmt implements the management-protocol connection slot state
// machine and slot pool described in spec.md §4.2, a Go rendering of
// n3n's libs/connslot/connslot.c. Each slot drives one HTTP/1.0-ish
// request/reply exchange over a non-blocking fd; the pool multiplexes a
// fixed number of slots plus a handful of listeners behind a single
// readiness poll driven by the edge (or supernode) reactor.
package mgmt

import (
	"bytes"
	"strconv"
	"time"

	"github.com/n3n-go/edge/internal/strbuf"
)

// State is the lifecycle state of a connection slot.
type State int

const (
	StateEmpty State = iota
	StateReading
	StateReady
	StateSending
	StateClosed
	StateError
)

const (
	headerEnd        = "\r\n\r\n"
	contentLengthKey = "\r\nContent-Length:"
)

// Slot holds one in-flight management connection: the fd == -1 iff
// state == StateEmpty invariant from spec.md §3 is maintained by Zero/Close.
type Slot struct {
	FD           int
	State        State
	Request      *strbuf.Buf
	Reply        []byte // body slice, owned externally (often == Request's backing bytes)
	ReplyHeader  *strbuf.Buf
	SendPos      int
	Activity     time.Time
	maxReqLen    int
}

// NewSlot allocates a slot with bounded request and reply-header buffers.
func NewSlot(requestMax, replyHeaderMax int) *Slot {
	s := &Slot{
		Request:     strbuf.New(48, requestMax),
		ReplyHeader: strbuf.New(48, replyHeaderMax),
		maxReqLen:   requestMax,
	}
	s.Zero()
	return s
}

// Zero resets the slot to StateEmpty without discarding its buffers'
// backing arrays, matching conn_zero.
func (s *Slot) Zero() {
	s.FD = -1
	s.State = StateEmpty
	s.Reply = nil
	s.SendPos = 0
	s.Activity = time.Time{}
	if s.Request != nil {
		s.Request.Zero()
	}
	if s.ReplyHeader != nil {
		s.ReplyHeader.Zero()
	}
}

// Assign transitions an empty slot into StateReading for a freshly
// accepted fd.
func (s *Slot) Assign(fd int, now time.Time) {
	s.FD = fd
	s.State = StateReading
	s.Activity = now
}

// Read performs one non-blocking read into the request buffer and advances
// the slot's state per the table in spec.md §4.2: incomplete requests stay
// StateReading, a complete request moves to StateReady, a zero-length read
// moves to StateClosed, and any other I/O error moves to StateError.
func (s *Slot) Read(now time.Time) {
	s.State = StateReading

	n, err := s.Request.ReadFromFD(s.FD)
	if err == strbuf.ErrEOF() {
		s.State = StateClosed
		return
	}
	if err != nil {
		s.State = StateError
		return
	}
	if n == 0 {
		// would-block: stay reading, try again next readiness event
		return
	}

	s.Activity = now

	if s.Request.Len() < 4 {
		return
	}

	expected := s.Request.RdPos()
	if expected == 0 {
		buf := s.Request.Bytes()
		headerEndIdx := indexHeaderEnd(buf)
		if headerEndIdx < 0 {
			return
		}
		bodyPos := headerEndIdx + len(headerEnd)

		cl, ok := findContentLength(buf[:bodyPos])
		if !ok {
			s.State = StateReady
			return
		}
		if s.maxReqLen > 0 && bodyPos+cl > s.maxReqLen {
			s.State = StateError
			return
		}
		expected = bodyPos + cl
	}

	s.Request.SetRdPos(expected)

	if s.Request.Len() < expected {
		return
	}

	s.State = StateReady
	s.Request.SetRdPos(0)
}

// indexHeaderEnd returns the offset of the first CRLFCRLF anywhere in buf,
// or -1 if there is none.
func indexHeaderEnd(buf []byte) int {
	return bytes.Index(buf, []byte(headerEnd))
}

// findContentLength scans only the header region (buf[:bodyPos]) for a
// line-start "Content-Length:" field, per spec.md §9's recommendation to
// restrict the match to the start of a header line rather than matching
// the token anywhere (including inside other header values).
func findContentLength(header []byte) (int, bool) {
	idx := bytes.Index(header, []byte(contentLengthKey))
	if idx < 0 {
		if bytes.HasPrefix(header, []byte("Content-Length:")) {
			idx = -2 // signal "found at offset 0"
		} else {
			return 0, false
		}
	}
	var rest []byte
	if idx == -2 {
		rest = header[len("Content-Length:"):]
	} else {
		rest = header[idx+len(contentLengthKey):]
	}
	rest = bytes.TrimLeft(rest, " \t")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(string(rest[:end]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// StageReply moves a StateReady slot into StateSending with a reply header
// and body staged for transmission; the reply is fully staged before
// sending begins, per spec.md §3's invariant.
func (s *Slot) StageReply(header string, body []byte) {
	s.ReplyHeader.Zero()
	s.ReplyHeader.Write([]byte(header))
	s.Reply = body
	s.SendPos = 0
	s.State = StateSending
}

// IsWriter reports whether the slot currently wants to be polled for
// writability.
func (s *Slot) IsWriter() bool {
	return s.State == StateSending
}

// Write performs one non-blocking write of the unsent part of the staged
// reply header+body (copied into one buffer while header bytes remain),
// advancing SendPos. When the entire reply has been sent the
// slot returns to StateEmpty and its buffers are cleared for reuse,
// matching conn_write.
func (s *Slot) Write(now time.Time) (int, error) {
	s.State = StateSending
	if s.FD == -1 {
		return 0, nil
	}

	headerLen := s.ReplyHeader.Len()
	totalLen := headerLen + len(s.Reply)

	var sent int
	var err error
	if s.SendPos < headerLen {
		// header not fully sent: try to push header+body in one go via a
		// single concatenated non-blocking write (the Go stdlib exposes no
		// cross-platform writev, so the two-slice gather write from the
		// source is approximated with one combined buffer here).
		combined := make([]byte, 0, totalLen-s.SendPos)
		combined = append(combined, s.ReplyHeader.Bytes()[s.SendPos:]...)
		combined = append(combined, s.Reply...)
		sent, err = strbuf.WriteToFD(s.FD, combined)
	} else {
		bodyPos := s.SendPos - headerLen
		sent, err = strbuf.WriteToFD(s.FD, s.Reply[bodyPos:])
	}

	if err != nil {
		s.State = StateError
		return sent, err
	}

	s.SendPos += sent
	s.Activity = now

	if s.SendPos >= totalLen {
		s.State = StateEmpty
		s.SendPos = 0
		s.ReplyHeader.Zero()
		s.Request.Zero()
		s.Reply = nil
	}
	return sent, nil
}

// Close releases the fd and returns the slot to StateEmpty.
func (s *Slot) Close(closer func(fd int) error) error {
	var err error
	if s.FD != -1 && closer != nil {
		err = closer(s.FD)
	}
	s.Zero()
	return err
}
