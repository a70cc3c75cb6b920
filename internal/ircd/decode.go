package ircd

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/horgh/ircd/internal/irc"
)

// Command is a decoded, typed client command ready to be dispatched by the
// session FSM. Only the fields belonging to the command selected by Kind
// are meaningful.
type Command struct {
	Kind CommandKind

	Nick string // NICK

	User     string // USER
	RealName string

	Pass string // PASS

	Token string // PING/PONG

	Channels []string // JOIN/PART/NAMES (comma-split)
	Keys     []string // JOIN keys, parallel to Channels when present

	Topic    string // TOPIC
	HasTopic bool
	Channel  string // TOPIC/MODE/single-channel ops

	ModeChange string // MODE
	ModeParam  string
	HasMode    bool

	Target  string // PRIVMSG/NOTICE/WHOIS/WHO
	Content string

	ListOptions []ListOption // LIST

	Nicknames []string // USERHOST

	Message    string // QUIT/PART/AWAY optional trailing text
	HasMessage bool

	Unknown string // Unknown(command)
}

// CommandKind tags which command a decoded Command represents.
type CommandKind int

const (
	CmdCap CommandKind = iota
	CmdPass
	CmdNick
	CmdUser
	CmdPing
	CmdPong
	CmdJoin
	CmdPart
	CmdNames
	CmdTopic
	CmdMode
	CmdPrivMsg
	CmdNotice
	CmdList
	CmdUserhost
	CmdWhois
	CmdWho
	CmdLusers
	CmdMotd
	CmdAway
	CmdQuit
	CmdUnknown
)

// ListFilter is the LIST option filter letter.
type ListFilter int

const (
	ListFilterChannelCreation ListFilter = iota
	ListFilterTopicUpdate
	ListFilterUserNumber
)

// ListOperation is the LIST option comparison direction.
type ListOperation int

const (
	ListOperationInf ListOperation = iota // '<'
	ListOperationSup                      // '>'
)

// ListOption is one parsed "<filter><op><number>" triplet.
type ListOption struct {
	Filter    ListFilter
	Operation ListOperation
	Number    int64
}

// Decode converts a parsed irc.Message into a typed Command, or a
// *DecodeError describing why it could not be decoded (spec §4.2).
func Decode(m irc.Message) (Command, error) {
	if !utf8.ValidString(m.Command) {
		return Command{}, &DecodeError{Kind: CannotDecodeUtf8, Command: m.Command}
	}
	for _, p := range m.Params {
		if !utf8.ValidString(p) {
			return Command{}, &DecodeError{Kind: CannotDecodeUtf8, Command: m.Command}
		}
	}

	name := strings.ToUpper(m.Command)
	switch name {
	case "CAP":
		return Command{Kind: CmdCap}, nil

	case "PASS":
		if len(m.Params) < 1 {
			return Command{}, &DecodeError{Kind: NotEnoughParameters, Command: name}
		}
		return Command{Kind: CmdPass, Pass: m.Params[0]}, nil

	case "NICK":
		if len(m.Params) < 1 || m.Params[0] == "" {
			return Command{}, &DecodeError{Kind: NoNicknameGiven}
		}
		return Command{Kind: CmdNick, Nick: m.Params[0]}, nil

	case "USER":
		if len(m.Params) < 4 || m.Params[0] == "" || m.Params[3] == "" {
			return Command{}, &DecodeError{Kind: NotEnoughParameters, Command: name}
		}
		return Command{Kind: CmdUser, User: m.Params[0], RealName: m.Params[3]}, nil

	case "PING":
		if len(m.Params) < 1 {
			return Command{}, &DecodeError{Kind: NotEnoughParameters, Command: name}
		}
		return Command{Kind: CmdPing, Token: m.Params[0]}, nil

	case "PONG":
		if len(m.Params) < 1 {
			return Command{}, &DecodeError{Kind: NotEnoughParameters, Command: name}
		}
		return Command{Kind: CmdPong, Token: m.Params[0]}, nil

	case "JOIN":
		if len(m.Params) < 1 {
			return Command{}, &DecodeError{Kind: NotEnoughParameters, Command: name}
		}
		cmd := Command{Kind: CmdJoin, Channels: splitComma(m.Params[0])}
		if len(m.Params) >= 2 {
			cmd.Keys = splitComma(m.Params[1])
		}
		return cmd, nil

	case "PART":
		if len(m.Params) < 1 {
			return Command{}, &DecodeError{Kind: NotEnoughParameters, Command: name}
		}
		cmd := Command{Kind: CmdPart, Channels: splitComma(m.Params[0])}
		if len(m.Params) >= 2 {
			cmd.HasMessage = true
			cmd.Message = m.Params[1]
		}
		return cmd, nil

	case "NAMES":
		if len(m.Params) < 1 {
			return Command{Kind: CmdNames}, nil
		}
		return Command{Kind: CmdNames, Channels: splitComma(m.Params[0])}, nil

	case "TOPIC":
		if len(m.Params) < 1 {
			return Command{}, &DecodeError{Kind: NotEnoughParameters, Command: name}
		}
		cmd := Command{Kind: CmdTopic, Channel: m.Params[0]}
		if len(m.Params) >= 2 {
			cmd.HasTopic = true
			cmd.Topic = m.Params[1]
		}
		return cmd, nil

	case "MODE":
		if len(m.Params) < 1 {
			return Command{}, &DecodeError{Kind: NotEnoughParameters, Command: name}
		}
		if !strings.HasPrefix(m.Params[0], "#") {
			return Command{}, &DecodeError{Kind: NoRecipient, Command: name}
		}
		cmd := Command{Kind: CmdMode, Channel: m.Params[0]}
		if len(m.Params) >= 2 {
			cmd.HasMode = true
			cmd.ModeChange = m.Params[1]
		}
		if len(m.Params) >= 3 {
			cmd.ModeParam = m.Params[2]
		}
		return cmd, nil

	case "PRIVMSG":
		if len(m.Params) < 1 || m.Params[0] == "" {
			return Command{}, &DecodeError{Kind: NoRecipient, Command: name}
		}
		if len(m.Params) < 2 || m.Params[1] == "" {
			return Command{}, &DecodeError{Kind: NoTextToSend}
		}
		return Command{Kind: CmdPrivMsg, Target: m.Params[0], Content: m.Params[1]}, nil

	case "NOTICE":
		if len(m.Params) < 1 || m.Params[0] == "" {
			return Command{}, &DecodeError{Kind: SilentError}
		}
		if len(m.Params) < 2 || m.Params[1] == "" {
			return Command{}, &DecodeError{Kind: SilentError}
		}
		return Command{Kind: CmdNotice, Target: m.Params[0], Content: m.Params[1]}, nil

	case "LIST":
		cmd := Command{Kind: CmdList}
		if len(m.Params) >= 1 && m.Params[0] != "" {
			cmd.Channels = splitComma(m.Params[0])
		}
		if len(m.Params) >= 2 {
			opts, err := parseListOptions(m.Params[1])
			if err != nil {
				return Command{}, err
			}
			cmd.ListOptions = opts
		}
		return cmd, nil

	case "USERHOST":
		if len(m.Params) < 1 {
			return Command{}, &DecodeError{Kind: NotEnoughParameters, Command: name}
		}
		nicks := m.Params
		if len(nicks) > 5 {
			nicks = nicks[:5]
		}
		return Command{Kind: CmdUserhost, Nicknames: nicks}, nil

	case "WHOIS":
		if len(m.Params) < 1 {
			return Command{}, &DecodeError{Kind: NotEnoughParameters, Command: name}
		}
		target := m.Params[0]
		if len(m.Params) >= 2 {
			target = m.Params[1]
		}
		return Command{Kind: CmdWhois, Target: target}, nil

	case "WHO":
		if len(m.Params) < 1 {
			return Command{}, &DecodeError{Kind: NotEnoughParameters, Command: name}
		}
		return Command{Kind: CmdWho, Target: m.Params[0]}, nil

	case "LUSERS":
		return Command{Kind: CmdLusers}, nil

	case "MOTD":
		return Command{Kind: CmdMotd}, nil

	case "AWAY":
		cmd := Command{Kind: CmdAway}
		if len(m.Params) >= 1 {
			cmd.HasMessage = true
			cmd.Message = m.Params[0]
		}
		return cmd, nil

	case "QUIT":
		cmd := Command{Kind: CmdQuit}
		if len(m.Params) >= 1 {
			cmd.HasMessage = true
			cmd.Message = m.Params[0]
		}
		return cmd, nil

	default:
		return Command{Kind: CmdUnknown, Unknown: m.Command}, nil
	}
}

func splitComma(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseListOptions parses a comma-separated list of "<filter><op><number>"
// triplets, e.g. "U<10,T>5".
func parseListOptions(s string) ([]ListOption, error) {
	var out []ListOption
	for _, tok := range strings.Split(s, ",") {
		if tok == "" {
			continue
		}
		opt, err := parseListOption(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, opt)
	}
	return out, nil
}

func parseListOption(tok string) (ListOption, error) {
	if len(tok) < 3 {
		return ListOption{}, &DecodeError{Kind: NotEnoughParameters, Command: "LIST"}
	}
	var filter ListFilter
	switch tok[0] {
	case 'C', 'c':
		filter = ListFilterChannelCreation
	case 'U', 'u':
		filter = ListFilterUserNumber
	case 'T', 't':
		filter = ListFilterTopicUpdate
	default:
		return ListOption{}, &DecodeError{Kind: NotEnoughParameters, Command: "LIST"}
	}

	var op ListOperation
	switch tok[1] {
	case '<':
		op = ListOperationInf
	case '>':
		op = ListOperationSup
	default:
		return ListOption{}, &DecodeError{Kind: NotEnoughParameters, Command: "LIST"}
	}

	n, err := strconv.ParseInt(tok[2:], 10, 64)
	if err != nil {
		return ListOption{}, &DecodeError{Kind: CannotParseInteger, Command: "LIST"}
	}

	return ListOption{Filter: filter, Operation: op, Number: n}, nil
}
