package ircd

import (
	"crypto/subtle"
	"fmt"
)

// StateError is the closed taxonomy of numeric errors the server state
// layer and decoder can produce. It always carries the numeric text (e.g.
// "433") and the already-formatted trailing text; Client is substituted for
// the reply's target parameter, which is the placeholder "*" before a
// nickname is known.
type StateError struct {
	Numeric string
	Params  []string // parameters between the client placeholder and the trailing text
	Text    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %v :%s", e.Numeric, e.Params, e.Text)
}

func newStateError(numeric, text string, params ...string) *StateError {
	return &StateError{Numeric: numeric, Params: params, Text: text}
}

// The closed set of server-state errors, each with its fixed numeric and
// message shape (spec §7). Functions rather than package vars since most
// need caller-supplied parameters.

func errNoSuchNick(target string) *StateError {
	return newStateError("401", "No such nick/channel", target)
}

func errNoSuchChannel(target string) *StateError {
	return newStateError("403", "No such channel", target)
}

func errCannotSendToChan(channel string) *StateError {
	return newStateError("404", "Cannot send to channel", channel)
}

func errNoRecipient(command string) *StateError {
	return newStateError("411", fmt.Sprintf("No recipient given (%s)", command))
}

func errNoTextToSend() *StateError {
	return newStateError("412", "No text to send")
}

func errUnknownCommand(command string) *StateError {
	return newStateError("421", "Unknown command", command)
}

func errNoNicknameGiven() *StateError {
	return newStateError("431", "No nickname given")
}

func errErroneousNickname(nick string) *StateError {
	return newStateError("432", "Erroneous nickname", nick)
}

func errNicknameInUse(nick string) *StateError {
	return newStateError("433", "Nickname is already in use", nick)
}

func errUserNotInChannel(nick, channel string) *StateError {
	return newStateError("441", "They aren't on that channel", nick, channel)
}

func errNotOnChannel(channel string) *StateError {
	return newStateError("442", "You're not on that channel", channel)
}

func errNotRegistered() *StateError {
	return newStateError("451", "You have not registered")
}

func errNeedMoreParams(command string) *StateError {
	return newStateError("461", "Not enough parameters", command)
}

func errPasswdMismatch() *StateError {
	return newStateError("464", "Password incorrect")
}

func errUnknownMode(modeChar string) *StateError {
	return newStateError("472", "is unknown mode char to me", modeChar)
}

func errBadChanMask(channel string) *StateError {
	return newStateError("476", "Bad Channel Mask", channel)
}

func errChanOpPrivsNeeded(channel string) *StateError {
	return newStateError("482", "You're not channel operator", channel)
}

func errUnknown(text string) *StateError {
	return newStateError("400", text)
}

// errUnknownForCommand is the generic 400 carrying the failing command
// token between the client placeholder and the info text.
func errUnknownForCommand(command, text string) *StateError {
	if command == "" {
		return errUnknown(text)
	}
	return newStateError("400", text, command)
}

// DecodeError is returned by the command decoder when a parsed Message
// cannot be turned into a typed Command. It carries the same closed set of
// kinds the original implementation distinguishes, since each maps to a
// distinct reply (or, for Silent, no reply at all).
type DecodeError struct {
	Kind    DecodeErrorKind
	Command string // the command token the fault occurred in, when known
}

// DecodeErrorKind enumerates every way a command can fail to decode.
type DecodeErrorKind int

const (
	CannotDecodeUtf8 DecodeErrorKind = iota
	NotEnoughParameters
	CannotParseInteger
	NoNicknameGiven
	NoTextToSend
	NoRecipient
	SilentError
)

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: kind=%d command=%q", e.Kind, e.Command)
}

// ToStateError maps a DecodeError to the StateError it produces on the
// wire, or nil for SilentError (used by NOTICE, which never replies).
func (e *DecodeError) ToStateError() *StateError {
	switch e.Kind {
	case CannotDecodeUtf8:
		return errUnknownForCommand(e.Command, "Cannot decode utf8")
	case NotEnoughParameters:
		return errNeedMoreParams(e.Command)
	case CannotParseInteger:
		return errUnknownForCommand(e.Command, "Cannot parse integer")
	case NoNicknameGiven:
		return errNoNicknameGiven()
	case NoTextToSend:
		return errNoTextToSend()
	case NoRecipient:
		return errNoRecipient(e.Command)
	case SilentError:
		return nil
	default:
		return errUnknown("unknown error")
	}
}

// constantTimeEqual compares two passwords without leaking timing
// information about where they first differ.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Still run a comparison of equal cost to len(a) so the branch
		// above doesn't itself leak much; full constant-time length-hiding
		// isn't attempted here, matching the original's scope.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
