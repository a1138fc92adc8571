package oramacore

import (
	"io"
	"strings"
	"unicode/utf8"
)

// sseEvent is one framed server-sent event: field name -> accumulated value.
// Repeated fields are joined with a newline, following the eventsource
// convention for multi-line data.
type sseEvent map[string]string

func (e sseEvent) data() (string, bool) {
	v, ok := e["data"]
	return v, ok
}

// sseReader frames a raw byte stream into discrete server-sent events.
// Chunk boundaries carry no meaning: a multi-byte rune, a line, or a CRLF
// pair may be split across reads and must frame exactly as if the whole
// stream had arrived in one chunk.
type sseReader struct {
	r io.Reader

	chunk   []byte // scratch read buffer
	pending []byte // undecoded tail, a rune split across chunk boundaries
	buf     []byte // decoded text awaiting line scanning
	event   sseEvent
	started bool // a byte has been emitted, the BOM window is closed
	eof     bool
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{
		r:     r,
		chunk: make([]byte, 4096),
		event: sseEvent{},
	}
}

// next returns the next framed event, or io.EOF when the stream ends.
// Transport errors from the underlying reader are returned as-is.
func (s *sseReader) next() (sseEvent, error) {
	for {
		if ev, ok := s.scan(); ok {
			return ev, nil
		}
		if s.eof {
			return nil, io.EOF
		}
		n, err := s.r.Read(s.chunk)
		if n > 0 {
			s.buf = append(s.buf, s.decode(s.chunk[:n], false)...)
		}
		if err == io.EOF {
			s.eof = true
			s.buf = append(s.buf, s.decode(nil, true)...)
		} else if err != nil {
			return nil, err
		}
	}
}

// decode appends p to any held-back partial rune and converts the result to
// valid UTF-8, replacing undecodable sequences per the replacement rules.
// A potentially incomplete rune at the tail is held back until the next
// chunk unless the stream has ended.
func (s *sseReader) decode(p []byte, eof bool) []byte {
	b := p
	if len(s.pending) > 0 {
		b = append(s.pending, p...)
		s.pending = nil
	}
	if !eof {
		if n := incompleteTail(b); n > 0 {
			s.pending = append(s.pending, b[len(b)-n:]...)
			b = b[:len(b)-n]
		}
	}
	var out []byte
	if utf8.Valid(b) {
		out = append(out, b...)
	} else {
		for len(b) > 0 {
			r, size := utf8.DecodeRune(b)
			if r == utf8.RuneError && size <= 1 {
				out = utf8.AppendRune(out, utf8.RuneError)
				b = b[1:]
				continue
			}
			out = append(out, b[:size]...)
			b = b[size:]
		}
	}
	// A single leading byte-order mark is suppressed once per stream.
	if !s.started && len(out) > 0 {
		out = []byte(strings.TrimPrefix(string(out), "\uFEFF"))
		s.started = true
	}
	return out
}

// incompleteTail reports how many trailing bytes of b form the prefix of a
// multi-byte rune whose continuation may still be in flight.
func incompleteTail(b []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return 0
		}
		if utf8.RuneStart(c) {
			// c announces a rune of runeLen bytes; if fewer than that
			// many have arrived the sequence is still incomplete.
			if n := runeLen(c); n > i {
				return i
			}
			return 0
		}
	}
	return 0
}

func runeLen(c byte) int {
	switch {
	case c&0xE0 == 0xC0:
		return 2
	case c&0xF0 == 0xE0:
		return 3
	case c&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}

// scan consumes complete lines from the decoded buffer, accumulating fields
// and flushing one event per blank line. A trailing '\r' is not consumed
// until the next chunk arrives, it could be the first half of a CRLF pair.
func (s *sseReader) scan() (sseEvent, bool) {
	for {
		line, ok := s.nextLine()
		if !ok {
			return nil, false
		}
		if len(line) == 0 {
			ev := s.event
			s.event = sseEvent{}
			return ev, true
		}
		s.parseLine(line)
	}
}

func (s *sseReader) nextLine() (string, bool) {
	for i, c := range s.buf {
		switch c {
		case '\n':
			line := string(s.buf[:i])
			s.buf = s.buf[i+1:]
			return line, true
		case '\r':
			if i == len(s.buf)-1 && !s.eof {
				return "", false
			}
			line := string(s.buf[:i])
			if i < len(s.buf)-1 && s.buf[i+1] == '\n' {
				s.buf = s.buf[i+2:]
			} else {
				s.buf = s.buf[i+1:]
			}
			return line, true
		}
	}
	return "", false
}

func (s *sseReader) parseLine(line string) {
	if line[0] == ':' {
		return // comment
	}
	name, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}
	if prev, ok := s.event[name]; ok {
		s.event[name] = prev + "\n" + value
	} else {
		s.event[name] = value
	}
}
