package ircd

import (
	"sort"
	"strconv"
	"strings"

	"github.com/horgh/ircd/internal/irc"
)

// replyBuilder serializes server replies into the wire format described in
// spec §4.3, writing each finished line to sink (typically a user's
// Outbox). It wraps an irc.Writer so every reply goes through the same
// single-open-line discipline the codec enforces: each method opens one
// Line, appends its pieces, and validates it.
type replyBuilder struct {
	serverName string
	w          *irc.Writer
}

func newReplyBuilder(serverName string, sink func(line []byte)) *replyBuilder {
	return &replyBuilder{serverName: serverName, w: irc.NewWriter(sink)}
}

// sv starts a line with the ":serverName " prefix followed by the numeric
// or verb and the client parameter.
func (r *replyBuilder) sv(numeric, client string) *irc.Line {
	return r.w.Line().Writes(":", r.serverName, " ", numeric, " ", client)
}

// --- Registration welcome sequence --------------------------------------

func (r *replyBuilder) welcome(nick, fullspec string, cfg WelcomeConfig) {
	r.sv("001", nick).Writes(" :Welcome to the Internet Relay Network ", fullspec).Validate()
	r.sv("002", nick).Writes(" :Your host is '", r.serverName, "', running ircd.").Validate()
	r.sv("003", nick).Writes(" :This server was created <datetime>.").Validate()
	r.sv("004", nick).Writes(" ", r.serverName, " 0 a a").Validate()
	if cfg.SendISupport {
		r.sv("005", nick).Writes(" CASEMAPPING=rfc7613 :are supported by this server").Validate()
	}
}

func (r *replyBuilder) lusers(nick string, clients, channels, unknownConns int, extraInfo bool) {
	n := strconv.Itoa(clients)
	r.sv("251", nick).Writes(" :There are ", n, " users and 0 invisible on 1 servers").Validate()
	r.sv("252", nick).Writes(" 0 :operator(s) online").Validate()
	r.sv("253", nick).Writes(" ", strconv.Itoa(unknownConns), " :unknown connection(s)").Validate()
	r.sv("254", nick).Writes(" ", strconv.Itoa(channels), " :channels formed").Validate()
	r.sv("255", nick).Writes(" :I have ", n, " clients and 0 servers").Validate()
	if extraInfo {
		r.sv("265", nick).Writes(" :Current local users  ", n, " , max ", n).Validate()
		r.sv("266", nick).Writes(" :Current global users  ", n, " , max ", n).Validate()
	}
}

func (r *replyBuilder) motd(nick string, lines []string) {
	if len(lines) == 0 {
		r.sv("422", nick).Writes(" :MOTD File is missing").Validate()
		return
	}
	r.sv("375", nick).Writes(" :- <server> Message of the day - ").Validate()
	for _, line := range lines {
		r.sv("372", nick).Writes(" :- ", line).Validate()
	}
	r.sv("376", nick).Writes(" :End of MOTD command").Validate()
}

// --- Channel events -------------------------------------------------------

func (r *replyBuilder) join(fullspec, channel string) {
	r.w.Line().Writes(":", fullspec, " JOIN ", channel).Validate()
}

func (r *replyBuilder) part(fullspec, channel, reason string) {
	l := r.w.Line().Writes(":", fullspec, " PART ", channel)
	if reason != "" {
		l.Writes(" :", reason)
	}
	l.Validate()
}

func (r *replyBuilder) topicReply(nick, channel string, topic Topic) {
	if !topic.IsValid() {
		r.sv("331", nick).Writes(" ", channel, " :No topic is set").Validate()
		return
	}
	r.sv("332", nick).Writes(" ", channel, " :", topic.Content).Validate()
	r.sv("333", nick).Writes(" ", channel, " ", topic.FromNickname, " ", strconv.FormatInt(topic.TS, 10)).Validate()
}

func (r *replyBuilder) topicEvent(fullspec, channel, content string) {
	r.w.Line().Writes(":", fullspec, " TOPIC ", channel, " :", content).Validate()
}

func (r *replyBuilder) names(nick, channel string, ch *Channel, users map[UserID]*RegisteredUser) {
	visGlyph := " = "
	if ch.Mode.Secret {
		visGlyph = " @ "
	}

	type entry struct {
		nick  string
		glyph string
	}
	var entries []entry
	for uid, mode := range ch.Members {
		u := users[uid]
		if u == nil {
			continue
		}
		entries = append(entries, entry{nick: u.Nickname, glyph: mode.Glyph()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].nick < entries[j].nick })

	l := r.sv("353", nick).Writes(visGlyph, channel, " :")
	for i, e := range entries {
		if i > 0 {
			l.Writes(" ")
		}
		l.Writes(e.glyph, e.nick)
	}
	l.Validate()

	r.endOfNames(nick, channel)
}

func (r *replyBuilder) endOfNames(nick, channel string) {
	r.sv("366", nick).Writes(" ", channel, " :End of NAMES list").Validate()
}

func (r *replyBuilder) nick(fullspec, newNick string) {
	r.w.Line().Writes(":", fullspec, " NICK :", newNick).Validate()
}

func (r *replyBuilder) channelMode(nick, channel string, mode ChannelMode) {
	r.sv("324", nick).Writes(" ", channel, " ", mode.String()).Validate()
}

func (r *replyBuilder) modeEvent(fullspec, channel, change, param string) {
	l := r.w.Line().Writes(":", fullspec, " MODE ", channel, " ", change)
	if param != "" {
		l.Writes(" ", param)
	}
	l.Validate()
}

// --- Messaging -------------------------------------------------------------

func (r *replyBuilder) privmsg(fullspec, target, content string) {
	r.w.Line().Writes(":", fullspec, " PRIVMSG ", target, " :", content).Validate()
}

func (r *replyBuilder) notice(fullspec, target, content string) {
	r.w.Line().Writes(":", fullspec, " NOTICE ", target, " :", content).Validate()
}

func (r *replyBuilder) away(nick, target, message string) {
	r.sv("301", nick).Writes(" ", target, " :", message).Validate()
}

func (r *replyBuilder) nowAway(nick string) {
	r.sv("306", nick).Writes(" :You have been marked as being away").Validate()
}

func (r *replyBuilder) unAway(nick string) {
	r.sv("305", nick).Writes(" :You are no longer marked as being away").Validate()
}

// --- LIST -------------------------------------------------------------------

func (r *replyBuilder) listItem(nick, channel string, memberCount int, topic string) {
	r.sv("322", nick).Writes(" ", channel, " ", strconv.Itoa(memberCount), " :", topic).Validate()
}

func (r *replyBuilder) listEnd(nick string) {
	r.sv("323", nick).Writes(" :End of LIST").Validate()
}

// --- WHO / WHOIS / USERHOST --------------------------------------------------

func (r *replyBuilder) who(nick, channel, username, hostname, userNick, flagsAndGlyph, realname string) {
	r.sv("352", nick).
		Writes(" ", channel, " ", username, " ", hostname, " ", r.serverName,
			" ", userNick, " ", flagsAndGlyph, " :0 ", realname).
		Validate()
}

func (r *replyBuilder) endOfWho(nick, mask string) {
	r.sv("315", nick).Writes(" ", mask, " :End of WHO list").Validate()
}

func (r *replyBuilder) whoisUser(nick, target, username, hostname, realname string) {
	r.sv("311", nick).Writes(" ", target, " ", username, " ", hostname, " * :", realname).Validate()
}

func (r *replyBuilder) endOfWhois(nick, target string) {
	r.sv("318", nick).Writes(" ", target, " :End of /WHOIS list").Validate()
}

func (r *replyBuilder) userhost(nick string, tuples []string) {
	r.sv("302", nick).Writes(" :", strings.Join(tuples, " ")).Validate()
}

// --- Session-level errors/events ---------------------------------------------

func (r *replyBuilder) stateError(nick string, e *StateError) {
	if nick == "" {
		nick = "*"
	}
	l := r.sv(e.Numeric, nick)
	for _, p := range e.Params {
		l.Writes(" ", p)
	}
	l.Writes(" :", e.Text).Validate()
}

func (r *replyBuilder) ping(token string) {
	r.w.Line().Writes(":", r.serverName, " PING :", token).Validate()
}

func (r *replyBuilder) pong(token string) {
	r.w.Line().Writes(":", r.serverName, " PONG ", r.serverName, " :", token).Validate()
}

// fatalError emits an ERROR line with the given trailing text.
func (r *replyBuilder) fatalError(reason string) {
	r.w.Line().Writes(":", r.serverName, " ERROR :", reason).Validate()
}

// errorClosingLink emits the closing ERROR line sent on a voluntary QUIT
// or a failed registration.
func (r *replyBuilder) errorClosingLink(reason string) {
	r.fatalError("Closing Link: " + r.serverName + " (" + reason + ")")
}

func (r *replyBuilder) quit(fullspec, reason string) {
	r.w.Line().Writes(":", fullspec, " QUIT :", reason).Validate()
}
