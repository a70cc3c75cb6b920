package irc

import (
	"bytes"
	"fmt"
	"strings"
)

// Encode serializes m into a single raw protocol line terminated by CRLF.
//
// It does not enforce command specific semantics, and it does not split a
// message across lines: if encoding would need more than MaxLineLength
// bytes, the result is truncated to fit and ErrTruncated is returned
// alongside the (usable) truncated line. Use Writer for replies that may
// need to become more than one line (NAMES, WHO, LIST, ...).
func (m Message) Encode() (string, error) {
	s := ""
	if len(m.Prefix) > 0 {
		s += ":" + m.Prefix + " "
	}
	s += m.Command

	if len(s)+2 > MaxLineLength {
		return "", fmt.Errorf("message with only prefix/command is too long")
	}

	if len(m.Params) > MaxParams {
		return "", fmt.Errorf("too many parameters")
	}

	truncated := false
	for i, param := range m.Params {
		// A colon prefix is required when the parameter has a space, starts
		// with ':', or is the empty string (so it stays visible on the wire).
		// Any of these must be the final parameter: there is only one
		// <trailing>.
		if idx := strings.IndexAny(param, " "); idx != -1 || (param != "" && param[0] == ':') || param == "" {
			param = ":" + param
			if i+1 != len(m.Params) {
				return "", fmt.Errorf("parameter problem: ':' or ' ' outside last parameter")
			}
		}

		if len(s)+1+len(param)+2 > MaxLineLength {
			lengthUsed := len(s) + 1 + 2
			lengthAvailable := MaxLineLength - lengthUsed
			if lengthAvailable > 0 {
				s += " " + param[0:lengthAvailable]
			}
			truncated = true
			break
		}

		s += " " + param
	}

	s += "\r\n"

	if truncated {
		return s, ErrTruncated
	}
	return s, nil
}

// Writer builds one or more outbound lines into sink, each at most
// MaxLineLength bytes, enforcing a single-open-line discipline: only one
// Line may be under construction at a time, and it is only delivered to
// sink once Validate is called on it.
type Writer struct {
	sink func(line []byte)
	open bool
}

// NewWriter returns a Writer that delivers finished lines to sink.
func NewWriter(sink func(line []byte)) *Writer {
	return &Writer{sink: sink}
}

// Line begins a new line. It panics if a previously started Line was never
// validated, since that would silently drop a reply — the same invariant
// the single-open-line discipline in message_writer.rs enforces at compile
// time via a borrow.
func (w *Writer) Line() *Line {
	if w.open {
		panic("irc: previous Line was not validated before starting a new one")
	}
	w.open = true
	buf := make([]byte, MaxLineLength)
	return &Line{w: w, buf: bytes.NewBuffer(buf[:0])}
}

// Line is a single in-progress outbound message.
type Line struct {
	w   *Writer
	buf *bytes.Buffer
}

// Write appends bytes to the line. Writes beyond the 510-byte payload
// budget are silently dropped; Validate still emits a well-formed
// truncated line.
func (l *Line) Write(b []byte) *Line {
	remaining := (MaxLineLength - 2) - l.buf.Len()
	if remaining <= 0 {
		return l
	}
	if len(b) > remaining {
		b = b[:remaining]
	}
	l.buf.Write(b)
	return l
}

// Writes is a convenience for appending several strings in sequence.
func (l *Line) Writes(parts ...string) *Line {
	for _, p := range parts {
		l.Write([]byte(p))
	}
	return l
}

// Validate commits the line: it overwrites whatever is at the truncation
// boundary with CRLF and hands the finished bytes to the Writer's sink.
// After Validate, the Writer accepts a new Line.
func (l *Line) Validate() {
	b := l.buf.Bytes()
	if len(b) > MaxLineLength-2 {
		b = b[:MaxLineLength-2]
	}
	out := make([]byte, 0, len(b)+2)
	out = append(out, b...)
	out = append(out, '\r', '\n')
	l.w.open = false
	l.w.sink(out)
}
