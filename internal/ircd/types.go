package ircd

import (
	"fmt"

	"github.com/google/uuid"
)

// UserID uniquely identifies a connection for the lifetime of the server
// process, whether it is still registering or fully registered.
type UserID uuid.UUID

// NewUserID generates a fresh, globally unique id for a freshly accepted
// connection.
func NewUserID() UserID {
	return UserID(uuid.New())
}

func (id UserID) String() string {
	return uuid.UUID(id).String()
}

// hiddenHostname is shown to other clients in place of a connection's real
// address, matching the privacy posture described for fullspec.
const hiddenHostname = "hidden"

// Outbox is the per-user single-consumer queue of already-serialized
// outbound lines. The server-state layer is the only producer; the owning
// session's writer loop is the only consumer.
type Outbox chan []byte

// NewOutbox returns an outbox buffered to 256 lines. The buffer keeps the
// critical section that enqueues into it from blocking; the writer loop
// drains it continuously. It is not unbounded: once 256 lines are queued,
// sendLine drops further lines.
func NewOutbox() Outbox {
	return make(Outbox, 256)
}

// RegisteringUser is a connection that has not yet completed NICK/USER/PASS
// negotiation. All identity fields are optional until set.
type RegisteringUser struct {
	UserID   UserID
	Nickname string
	Username string
	Realname string
	Password string
	Outbox   Outbox
}

// IsReady reports whether both identity fields required to attempt
// registration have been supplied.
func (r *RegisteringUser) IsReady() bool {
	return r.Nickname != "" && r.Username != ""
}

// Promote converts a ready RegisteringUser into a RegisteredUser. The
// caller is responsible for having verified readiness and password match.
func (r *RegisteringUser) Promote() *RegisteredUser {
	return &RegisteredUser{
		UserID:   r.UserID,
		Nickname: r.Nickname,
		Username: r.Username,
		Realname: r.Realname,
		Outbox:   r.Outbox,
	}
}

// RegisteredUser is a fully registered client: it has a nickname visible to
// the rest of the server and can join channels, send messages, and so on.
type RegisteredUser struct {
	UserID      UserID
	Nickname    string
	Username    string
	Realname    string
	AwayMessage string
	IsAway      bool
	Outbox      Outbox
}

// ShownHostname is the hostname presented to other clients, a fixed
// constant regardless of the connection's real address.
func (u *RegisteredUser) ShownHostname() string {
	return hiddenHostname
}

// Fullspec is the canonical sender identifier on event lines:
// nickname!username@hostname.
func (u *RegisteredUser) Fullspec() string {
	return fmt.Sprintf("%s!%s@%s", u.Nickname, u.Username, u.ShownHostname())
}

// ChannelUserMode is the set of per-membership flags a user holds within a
// single channel.
type ChannelUserMode struct {
	Op    bool
	Voice bool
}

// Glyph returns the NAMES/WHO prefix character for this membership: "@" for
// op, "+" for voice (op takes priority), or "" for neither.
func (m ChannelUserMode) Glyph() string {
	if m.Op {
		return "@"
	}
	if m.Voice {
		return "+"
	}
	return ""
}

// ChannelMode is the set of boolean flags on a channel. The zero value is
// not the default: new channels start with No set per spec, callers should
// use DefaultChannelMode.
type ChannelMode struct {
	Secret         bool
	TopicProtected bool
	Moderated      bool
	NoExternal     bool
}

// DefaultChannelMode is the mode assigned to a freshly created channel
// absent any configuration override: only `n` (no external messages) set.
func DefaultChannelMode() ChannelMode {
	return ChannelMode{NoExternal: true}
}

// String renders the mode flags in canonical nsmt order, e.g. "+nt".
func (m ChannelMode) String() string {
	flags := ""
	if m.NoExternal {
		flags += "n"
	}
	if m.Secret {
		flags += "s"
	}
	if m.Moderated {
		flags += "m"
	}
	if m.TopicProtected {
		flags += "t"
	}
	if flags == "" {
		return "+"
	}
	return "+" + flags
}

// Topic is a channel's current topic text plus the metadata needed to
// report it and to support the LIST T filters.
type Topic struct {
	Content      string
	TS           int64 // seconds since epoch; 0 means unset
	FromNickname string
}

// IsValid reports whether this topic has actually been set.
func (t Topic) IsValid() bool {
	return t.Content != "" && t.TS > 0
}

// Channel is a named chat room. Name is carried outside this struct (as the
// ChannelID map key) so the struct itself has no notion of its own casing.
type Channel struct {
	// DisplayName preserves the case of the first JOIN that created the
	// channel, for replies; lookups use the case-folded ChannelID.
	DisplayName string
	Topic       Topic
	Members     map[UserID]*ChannelUserMode
	Mode        ChannelMode
}

// ChannelID is the case-insensitive lookup key for a channel: ASCII-folded
// lowercase of the channel name including its leading '#'.
type ChannelID string

// NewChannelID folds name to its case-insensitive lookup key.
func NewChannelID(name string) ChannelID {
	return ChannelID(foldASCII(name))
}

// WelcomeConfig controls optional parts of the registration welcome
// sequence.
type WelcomeConfig struct {
	SendISupport bool
}

// TimeoutConfig configures the PING/PONG liveness state machine. A nil
// *TimeoutConfig disables liveness checking entirely (AllGood forever).
type TimeoutConfig struct {
	Base    int64 // seconds
	Reduced int64 // seconds
}
