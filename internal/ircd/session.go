package ircd

import (
	"log"
	"time"

	"github.com/horgh/ircd/internal/irc"
)

// SessionPhase is the per-connection FSM state (spec §4.4).
type SessionPhase int

const (
	PhaseRegistering SessionPhase = iota
	PhaseRegistered
	PhaseDisconnected
)

// Session drives one connection's command stream against the shared
// ServerState. It holds no socket of its own: Client feeds it decoded
// messages; every reply is delivered through the user's own outbox inside
// ServerState, so a Session never needs to know another connection's
// outbox to reply to it.
type Session struct {
	id    UserID
	state *ServerState

	phase SessionPhase
	ping  *PingState
}

// NewSession starts a fresh Registering session for a newly accepted
// connection and registers its outbox with state.
func NewSession(state *ServerState, outbox Outbox, now time.Time) *Session {
	id := NewUserID()
	state.AddRegisteringUser(&RegisteringUser{UserID: id, Outbox: outbox})
	return &Session{
		id:    id,
		state: state,
		phase: PhaseRegistering,
		ping:  NewPingState(now),
	}
}

// ID is the session's connection identifier.
func (s *Session) ID() UserID { return s.id }

// Phase reports the session's current FSM state.
func (s *Session) Phase() SessionPhase { return s.phase }

// HandleLine decodes one already-framed wire message and dispatches it.
// parseErr, when non-nil, is a framing-level error from the stream parser
// (a line that could not even be tokenized into a command).
func (s *Session) HandleLine(m irc.Message, parseErr error) {
	if s.phase == PhaseDisconnected {
		return
	}

	if parseErr != nil {
		s.state.SendStateError(s.id, errUnknown("malformed message"))
		return
	}

	cmd, err := Decode(m)
	if err != nil {
		de := err.(*DecodeError)
		if se := de.ToStateError(); se != nil {
			s.state.SendStateError(s.id, se)
		}
		return
	}

	if s.phase == PhaseRegistering {
		s.handleRegistering(cmd)
		return
	}
	s.handleRegistered(cmd)
}

// --- Registering phase ---------------------------------------------------

func (s *Session) handleRegistering(cmd Command) {
	switch cmd.Kind {
	case CmdCap:
		// No CAP negotiation implemented; swallow silently.

	case CmdPass:
		s.state.SetRegisteringPassword(s.id, cmd.Pass)

	case CmdNick:
		if se := s.state.SetRegisteringNick(s.id, cmd.Nick); se != nil {
			s.state.SendStateError(s.id, se)
			return
		}
		s.maybeCompleteRegistration()

	case CmdUser:
		s.state.SetRegisteringUser(s.id, cmd.User, cmd.RealName)
		s.maybeCompleteRegistration()

	case CmdPing:
		token := cmd.Token
		s.state.Emit(s.id, func(r *replyBuilder) { r.pong(token) })

	case CmdPong:
		s.ping.ReceivePong(cmd.Token)

	case CmdQuit:
		reason := cmd.Message
		if !cmd.HasMessage || reason == "" {
			reason = "Client Quit"
		}
		s.state.Emit(s.id, func(r *replyBuilder) { r.errorClosingLink(reason) })
		s.state.RemoveRegisteringUser(s.id)
		s.phase = PhaseDisconnected

	case CmdPrivMsg:
		s.state.SendStateError(s.id, errNotRegistered())

	case CmdUnknown:
		s.state.SendStateError(s.id, errUnknownCommand(cmd.Unknown))

	default:
		// Any other valid command silently no-ops while registering.
	}
}

func (s *Session) maybeCompleteRegistration() {
	if !s.state.ReadyToRegister(s.id) {
		return
	}
	_, ok := s.state.CompleteRegistration(s.id)
	if !ok {
		s.phase = PhaseDisconnected
		return
	}

	s.phase = PhaseRegistered
	s.ping.AggressivelyReduceTimeout()
	s.state.EmitRegistrationWelcome(s.id)
}

// --- Registered phase ------------------------------------------------------

func (s *Session) handleRegistered(cmd Command) {
	now := time.Now

	switch cmd.Kind {
	case CmdCap:
		// Swallowed post-registration too.

	case CmdPing:
		token := cmd.Token
		s.state.Emit(s.id, func(r *replyBuilder) { r.pong(token) })

	case CmdPong:
		s.ping.ReceivePong(cmd.Token)

	case CmdJoin:
		for _, ch := range cmd.Channels {
			s.state.Join(s.id, ch)
		}

	case CmdPart:
		for _, ch := range cmd.Channels {
			s.state.Part(s.id, ch, cmd.Message)
		}

	case CmdNames:
		if len(cmd.Channels) == 0 {
			return
		}
		s.state.Names(s.id, cmd.Channels)

	case CmdTopic:
		if cmd.HasTopic {
			s.state.SetTopic(s.id, cmd.Channel, cmd.Topic, now())
		} else {
			s.state.GetTopic(s.id, cmd.Channel)
		}

	case CmdMode:
		if cmd.HasMode {
			s.state.ChangeChannelMode(s.id, cmd.Channel, cmd.ModeChange, cmd.ModeParam)
		} else {
			s.state.ChannelModeQuery(s.id, cmd.Channel)
		}

	case CmdPrivMsg:
		s.state.PrivMsg(s.id, cmd.Target, cmd.Content)

	case CmdNotice:
		s.state.Notice(s.id, cmd.Target, cmd.Content)

	case CmdNick:
		s.state.ChangeNick(s.id, cmd.Nick)

	case CmdList:
		s.state.List(s.id, cmd.Channels, cmd.ListOptions, now())

	case CmdUserhost:
		s.state.Userhost(s.id, cmd.Nicknames)

	case CmdWhois:
		s.state.Whois(s.id, cmd.Target)

	case CmdWho:
		s.state.Who(s.id, cmd.Target)

	case CmdLusers:
		s.state.Lusers(s.id, true)

	case CmdMotd:
		s.state.Motd(s.id)

	case CmdAway:
		s.state.Away(s.id, cmd.Message, cmd.HasMessage)

	case CmdQuit:
		reason := cmd.Message
		if !cmd.HasMessage || reason == "" {
			reason = "Client Quit"
		}
		s.state.Quit(s.id, reason, true)
		s.phase = PhaseDisconnected

	case CmdUnknown:
		s.state.SendStateError(s.id, errUnknownCommand(cmd.Unknown))

	case CmdUser, CmdPass:
		// Re-sent registration commands after registration are ignored.

	default:
		log.Printf("ircd: unhandled command kind %d for %s", cmd.Kind, s.id)
	}
}

// Tick runs the PING/PONG liveness check for this session as of now,
// against cfg, emitting a PING or performing disconnect cleanup as needed.
func (s *Session) Tick(now time.Time, cfg TimeoutConfig) PingStatus {
	if s.phase == PhaseDisconnected {
		return PingAllGood
	}

	status, token := s.ping.CheckStatus(now, cfg)
	switch status {
	case PingNeedToSend:
		s.state.Emit(s.id, func(r *replyBuilder) { r.ping(token) })
	case PingTimeout:
		// A liveness timeout acts as a voluntary QUIT: the dying connection
		// gets the closing ERROR line too, before best-effort teardown.
		reason := "Timeout (" + now.Sub(s.ping.sentAt).String() + ")"
		if s.phase == PhaseRegistered {
			s.state.Quit(s.id, reason, true)
		} else {
			s.state.Emit(s.id, func(r *replyBuilder) { r.errorClosingLink(reason) })
			s.state.RemoveRegisteringUser(s.id)
		}
		s.phase = PhaseDisconnected
	}
	return status
}

// HandleSuddenDisconnect performs the cleanup spec §4.5.13 describes for a
// connection that ends without a voluntary QUIT: fan out QUIT with reason
// "connection closed", with no closing ERROR line.
func (s *Session) HandleSuddenDisconnect() {
	if s.phase == PhaseDisconnected {
		return
	}
	if s.phase == PhaseRegistered {
		s.state.Quit(s.id, "connection closed", false)
	} else {
		s.state.RemoveRegisteringUser(s.id)
	}
	s.phase = PhaseDisconnected
}
