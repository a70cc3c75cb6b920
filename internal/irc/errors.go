package irc

import "errors"

// ErrTruncated is returned by Encode when the message had to be cut to fit
// MaxLineLength. The returned line is still well-formed and usable.
var ErrTruncated = errors.New("message truncated")

// ErrMalformed is returned by parseLine when the line cannot be framed
// into a command at all (missing or ill-formed command token). Feed
// reports such a line as a *ParseError result.
var ErrMalformed = errors.New("malformed message")
