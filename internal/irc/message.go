// Package irc implements the line-oriented wire protocol shared by
// RFC 1459/2812: framing a byte stream into messages, and serializing
// replies back into CRLF-terminated lines.
package irc

import "fmt"

// MaxLineLength is the maximum protocol message length, CRLF included.
const MaxLineLength = 512

// MaxParams is the maximum number of parameters a message may carry.
const MaxParams = 15

// Message holds a single protocol message. See RFC 1459/2812 section 2.3.1.
type Message struct {
	// Prefix is the optional source of the message. Blank if absent.
	Prefix string

	// Command is the IRC command, upper-cased. May be a 3 digit numeric.
	Command string

	// Params holds at most MaxParams parameters. The last parameter may
	// contain spaces (it was introduced with a ':' on the wire).
	Params []string
}

func (m Message) String() string {
	return fmt.Sprintf("Prefix [%s] Command [%s] Params %q", m.Prefix, m.Command, m.Params)
}
