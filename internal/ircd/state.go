package ircd

import (
	"log"
	"sort"
	"sync"
	"time"
)

// ServerState is the single shared owner of every user, channel, and
// nickname in the server (spec §4.5). All mutation and lookup happens
// through its methods, each a single critical section under one
// reader/writer lock; no method performs blocking I/O while holding the
// lock — replies are only handed to each recipient's own buffered outbox.
type ServerState struct {
	mu sync.RWMutex

	serverName    string
	welcomeConfig WelcomeConfig
	password      string
	motd          []string
	defaultMode   ChannelMode

	users            map[UserID]*RegisteredUser
	registeringUsers map[UserID]*RegisteringUser
	channels         map[ChannelID]*Channel

	// cure(nick) -> owning user id, for both registries combined.
	nicknameOwners map[string]UserID
}

// NewServerState builds an empty server state from loaded configuration.
func NewServerState(cfg *Config) *ServerState {
	return &ServerState{
		serverName:       cfg.ServerName,
		welcomeConfig:    WelcomeConfig{SendISupport: cfg.WelcomeConfig.SendISupport},
		password:         cfg.Password,
		motd:             cfg.MOTD,
		defaultMode:      cfg.ChannelMode(),
		users:            make(map[UserID]*RegisteredUser),
		registeringUsers: make(map[UserID]*RegisteringUser),
		channels:         make(map[ChannelID]*Channel),
		nicknameOwners:   make(map[string]UserID),
	}
}

// sendLine hands a finished line to ob without blocking the caller. ob is
// a generously buffered channel; a full buffer means a wedged or abusive
// reader on the other end, so the line is dropped rather than stalling
// whichever critical section produced it.
func sendLine(ob Outbox, line []byte) {
	if ob == nil {
		return
	}
	select {
	case ob <- line:
	default:
		log.Printf("ircd: outbox full, dropping line")
	}
}

// --- Registration ------------------------------------------------------

// AddRegisteringUser admits a freshly accepted connection.
func (s *ServerState) AddRegisteringUser(u *RegisteringUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registeringUsers[u.UserID] = u
}

// SetRegisteringNick validates and assigns a candidate nickname to a
// registering user, returning the mapped error on failure.
func (s *ServerState) SetRegisteringNick(id UserID, nick string) *StateError {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !isValidNickname(nick) {
		return errErroneousNickname(nick)
	}
	if owner, ok := s.nicknameOwners[cureNickname(nick)]; ok && owner != id {
		return errNicknameInUse(nick)
	}

	u, ok := s.registeringUsers[id]
	if !ok {
		return nil
	}
	if u.Nickname != "" {
		delete(s.nicknameOwners, cureNickname(u.Nickname))
	}
	u.Nickname = nick
	s.nicknameOwners[cureNickname(nick)] = id
	return nil
}

// SetRegisteringUser records USER/realname for a registering connection.
func (s *ServerState) SetRegisteringUser(id UserID, username, realname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.registeringUsers[id]
	if !ok {
		return
	}
	u.Username = username
	u.Realname = realname
}

// SetRegisteringPassword records a PASS candidate.
func (s *ServerState) SetRegisteringPassword(id UserID, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.registeringUsers[id]
	if !ok {
		return
	}
	u.Password = password
}

// ReadyToRegister reports whether the registering user has both nickname
// and username set.
func (s *ServerState) ReadyToRegister(id UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.registeringUsers[id]
	return ok && u.IsReady()
}

// CompleteRegistration checks the candidate password and, on success,
// promotes the registering user to a RegisteredUser. On password mismatch
// it emits the 464 reply itself (the registering user is gone from the
// registries by the time it returns, so no later call could still reach
// its outbox) and returns (nil, false); the caller must then disconnect.
func (s *ServerState) CompleteRegistration(id UserID) (*RegisteredUser, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.registeringUsers[id]
	if !ok {
		return nil, false
	}
	if !constantTimeEqual(u.Password, s.password) {
		nick := u.Nickname
		if nick == "" {
			nick = "*"
		}
		s.replyFor(id).stateError(nick, errPasswdMismatch())
		delete(s.registeringUsers, id)
		delete(s.nicknameOwners, cureNickname(u.Nickname))
		return nil, false
	}

	registered := u.Promote()
	delete(s.registeringUsers, id)
	s.users[id] = registered
	return registered, true
}

// RemoveRegisteringUser drops a registering connection (voluntary QUIT or
// sudden disconnect before registration completed).
func (s *ServerState) RemoveRegisteringUser(id UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.registeringUsers[id]; ok {
		delete(s.nicknameOwners, cureNickname(u.Nickname))
		delete(s.registeringUsers, id)
	}
}

// ServerName, WelcomeConfig and MOTD are read-only accessors; they never
// change after construction so no lock is needed.
func (s *ServerState) ServerName() string           { return s.serverName }
func (s *ServerState) WelcomeConfig() WelcomeConfig { return s.welcomeConfig }
func (s *ServerState) MOTD() []string               { return s.motd }

// Counts returns a snapshot of user/channel counts, for LUSERS.
func (s *ServerState) Counts() (users, channels int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), len(s.channels)
}

// --- Lookup --------------------------------------------------------------

// LookupResultKind tags what lookupTargetLocked found.
type LookupResultKind int

const (
	LookupNone LookupResultKind = iota
	LookupChannel
	LookupUser
)

// lookupTargetLocked finds target by channel name first, then by
// nickname. Caller must hold s.mu (read or write).
func (s *ServerState) lookupTargetLocked(target string) (LookupResultKind, *Channel, *RegisteredUser) {
	if len(target) > 0 && target[0] == '#' {
		if ch, ok := s.channels[NewChannelID(target)]; ok {
			return LookupChannel, ch, nil
		}
		return LookupNone, nil, nil
	}
	folded := cureNickname(target)
	if id, ok := s.nicknameOwners[folded]; ok {
		if u, ok := s.users[id]; ok {
			return LookupUser, nil, u
		}
	}
	return LookupNone, nil, nil
}

// --- JOIN ------------------------------------------------------------------

// Join implements spec §4.5.4 for one channel name.
func (s *ServerState) Join(id UserID, channelName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return
	}

	if !validChannelName(channelName) {
		s.sendError(id, errBadChanMask(channelName))
		return
	}

	cid := NewChannelID(channelName)
	ch, existed := s.channels[cid]
	if !existed {
		ch = &Channel{
			DisplayName: channelName,
			Members:     make(map[UserID]*ChannelUserMode),
			Mode:        s.defaultMode,
		}
		s.channels[cid] = ch
	}

	if _, already := ch.Members[id]; already {
		return
	}

	mode := &ChannelUserMode{}
	if len(ch.Members) == 0 {
		mode.Op = true
	}
	ch.Members[id] = mode

	fullspec := user.Fullspec()
	s.broadcastChannelLocked(ch, func(r *replyBuilder) {
		r.join(fullspec, ch.DisplayName)
	})

	rb := s.replyFor(id)
	if ch.Topic.IsValid() {
		rb.topicReply(user.Nickname, ch.DisplayName, ch.Topic)
	}
	rb.names(user.Nickname, ch.DisplayName, ch, s.users)
}

// --- PART --------------------------------------------------------------

// Part implements spec §4.5.5 for one channel name.
func (s *ServerState) Part(id UserID, channelName, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.users[id]
	if !ok {
		return
	}
	user := s.users[id]

	if !validChannelName(channelName) {
		s.sendError(id, errNoSuchChannel(channelName))
		return
	}
	cid := NewChannelID(channelName)
	ch, ok := s.channels[cid]
	if !ok {
		s.sendError(id, errNoSuchChannel(channelName))
		return
	}
	if _, member := ch.Members[id]; !member {
		s.sendError(id, errNotOnChannel(ch.DisplayName))
		return
	}

	fullspec := user.Fullspec()
	s.broadcastChannelLocked(ch, func(r *replyBuilder) {
		r.part(fullspec, ch.DisplayName, reason)
	})

	delete(ch.Members, id)
	if len(ch.Members) == 0 {
		delete(s.channels, cid)
	}
}

// --- NICK --------------------------------------------------------------

// ChangeNick implements spec §4.5.6.
func (s *ServerState) ChangeNick(id UserID, newNick string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return
	}

	if !isValidNickname(newNick) {
		s.sendError(id, errErroneousNickname(newNick))
		return
	}

	if user.Nickname == newNick {
		return
	}

	cured := cureNickname(newNick)
	if owner, exists := s.nicknameOwners[cured]; exists && owner != id {
		s.sendError(id, errNicknameInUse(newNick))
		return
	}

	fullspec := user.Fullspec()

	delete(s.nicknameOwners, cureNickname(user.Nickname))
	user.Nickname = newNick
	s.nicknameOwners[cured] = id

	for uid := range s.recipientsFor(id) {
		s.replyFor(uid).nick(fullspec, newNick)
	}
}

// recipientsFor returns id plus every member of every channel id belongs
// to, deduplicated. Caller must hold the lock.
func (s *ServerState) recipientsFor(id UserID) map[UserID]struct{} {
	out := map[UserID]struct{}{id: {}}
	for _, ch := range s.channels {
		if _, ok := ch.Members[id]; !ok {
			continue
		}
		for uid := range ch.Members {
			out[uid] = struct{}{}
		}
	}
	return out
}

// --- PRIVMSG / NOTICE -----------------------------------------------------

// PrivMsg implements spec §4.5.7.
func (s *ServerState) PrivMsg(id UserID, target, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverMessage(id, target, content, false)
}

// Notice implements spec §4.5.8: identical lookups but never errors to the
// sender.
func (s *ServerState) Notice(id UserID, target, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverMessage(id, target, content, true)
}

func (s *ServerState) deliverMessage(id UserID, target, content string, silent bool) {
	user, ok := s.users[id]
	if !ok {
		return
	}

	kind, ch, targetUser := s.lookupTargetLocked(target)
	if kind == LookupNone {
		if !silent {
			s.sendError(id, errNoSuchNick(target))
		}
		return
	}

	fullspec := user.Fullspec()

	if kind == LookupChannel {
		if err := s.ensureCanSendToChannel(id, ch); err != nil {
			if !silent {
				s.sendError(id, err)
			}
			return
		}
		for uid := range ch.Members {
			if uid == id {
				continue
			}
			rb := s.replyFor(uid)
			if silent {
				rb.notice(fullspec, ch.DisplayName, content)
			} else {
				rb.privmsg(fullspec, ch.DisplayName, content)
			}
		}
		return
	}

	rb := s.replyFor(targetUser.UserID)
	if silent {
		rb.notice(fullspec, targetUser.Nickname, content)
	} else {
		rb.privmsg(fullspec, targetUser.Nickname, content)
	}

	if !silent && targetUser.IsAway {
		s.replyFor(id).away(user.Nickname, targetUser.Nickname, targetUser.AwayMessage)
	}
}

func (s *ServerState) ensureCanSendToChannel(id UserID, ch *Channel) *StateError {
	mode, isMember := ch.Members[id]
	if ch.Mode.NoExternal && !isMember {
		return errCannotSendToChan(ch.DisplayName)
	}
	if ch.Mode.Moderated {
		if !isMember || (!mode.Op && !mode.Voice) {
			return errCannotSendToChan(ch.DisplayName)
		}
	}
	return nil
}

// --- TOPIC -----------------------------------------------------------------

// GetTopic implements the GET half of spec §4.5.9.
func (s *ServerState) GetTopic(id UserID, channelName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return
	}
	ch, ok := s.channels[NewChannelID(channelName)]
	if !ok {
		s.sendError(id, errNoSuchChannel(channelName))
		return
	}
	if _, member := ch.Members[id]; !member {
		s.sendError(id, errNotOnChannel(ch.DisplayName))
		return
	}
	s.replyFor(id).topicReply(user.Nickname, ch.DisplayName, ch.Topic)
}

// SetTopic implements the SET half of spec §4.5.9.
func (s *ServerState) SetTopic(id UserID, channelName, content string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return
	}
	ch, ok := s.channels[NewChannelID(channelName)]
	if !ok {
		s.sendError(id, errNoSuchChannel(channelName))
		return
	}
	mode, member := ch.Members[id]
	if !member {
		s.sendError(id, errNotOnChannel(ch.DisplayName))
		return
	}
	if ch.Mode.TopicProtected && !mode.Op {
		s.sendError(id, errChanOpPrivsNeeded(ch.DisplayName))
		return
	}

	ch.Topic = Topic{Content: content, TS: now.Unix(), FromNickname: user.Nickname}

	fullspec := user.Fullspec()
	s.broadcastChannelLocked(ch, func(r *replyBuilder) {
		r.topicEvent(fullspec, ch.DisplayName, content)
	})
}

// --- MODE ------------------------------------------------------------------

// ChannelModeQuery implements the no-argument form of spec §4.5.10.
func (s *ServerState) ChannelModeQuery(id UserID, channelName string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return
	}
	ch, ok := s.channels[NewChannelID(channelName)]
	if !ok {
		s.sendError(id, errNoSuchChannel(channelName))
		return
	}
	s.replyFor(id).channelMode(user.Nickname, ch.DisplayName, ch.Mode)
}

// ChangeChannelMode implements the setter form of spec §4.5.10 for a
// single "+X"/"-X" change with an optional nickname parameter.
func (s *ServerState) ChangeChannelMode(id UserID, channelName, change, param string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return
	}
	ch, ok := s.channels[NewChannelID(channelName)]
	if !ok {
		s.sendError(id, errNoSuchChannel(channelName))
		return
	}
	setterMode, member := ch.Members[id]
	if !member {
		s.sendError(id, errNotOnChannel(ch.DisplayName))
		return
	}
	if len(change) < 2 {
		s.sendError(id, errUnknownMode(change))
		return
	}
	adding := change[0] == '+'
	if !adding && change[0] != '-' {
		s.sendError(id, errUnknownMode(change))
		return
	}
	if !setterMode.Op {
		s.sendError(id, errChanOpPrivsNeeded(ch.DisplayName))
		return
	}

	flag := change[1]
	fullspec := user.Fullspec()

	switch flag {
	case 'n', 's', 'm', 't':
		if setChannelFlag(&ch.Mode, flag, adding) {
			s.broadcastChannelLocked(ch, func(r *replyBuilder) {
				r.modeEvent(fullspec, ch.DisplayName, change, "")
			})
		}

	case 'o', 'v':
		if param == "" {
			s.sendError(id, errNeedMoreParams("MODE"))
			return
		}
		targetID, targetUser := s.findMemberByNick(ch, param)
		if targetUser == nil {
			if _, ok := s.nicknameOwners[cureNickname(param)]; !ok {
				s.sendError(id, errNoSuchNick(param))
				return
			}
			s.sendError(id, errUserNotInChannel(param, ch.DisplayName))
			return
		}
		targetMode := ch.Members[targetID]
		if setMemberFlag(targetMode, flag, adding) {
			s.broadcastChannelLocked(ch, func(r *replyBuilder) {
				r.modeEvent(fullspec, ch.DisplayName, change, targetUser.Nickname)
			})
		}

	default:
		s.sendError(id, errUnknownMode(string(flag)))
	}
}

func setChannelFlag(mode *ChannelMode, flag byte, adding bool) bool {
	var cur *bool
	switch flag {
	case 'n':
		cur = &mode.NoExternal
	case 's':
		cur = &mode.Secret
	case 'm':
		cur = &mode.Moderated
	case 't':
		cur = &mode.TopicProtected
	}
	if *cur == adding {
		return false
	}
	*cur = adding
	return true
}

func setMemberFlag(mode *ChannelUserMode, flag byte, adding bool) bool {
	var cur *bool
	switch flag {
	case 'o':
		cur = &mode.Op
	case 'v':
		cur = &mode.Voice
	}
	if *cur == adding {
		return false
	}
	*cur = adding
	return true
}

func (s *ServerState) findMemberByNick(ch *Channel, nick string) (UserID, *RegisteredUser) {
	cured := cureNickname(nick)
	for uid := range ch.Members {
		if u, ok := s.users[uid]; ok && cureNickname(u.Nickname) == cured {
			return uid, u
		}
	}
	return UserID{}, nil
}

// --- LIST --------------------------------------------------------------

// List implements spec §4.5.11.
func (s *ServerState) List(id UserID, channelNames []string, options []ListOption, now time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rb := s.replyFor(id)
	nick := s.nickOrStar(id)

	var candidates []*Channel
	if len(channelNames) > 0 {
		for _, name := range channelNames {
			if ch, ok := s.channels[NewChannelID(name)]; ok {
				candidates = append(candidates, ch)
			}
		}
	} else {
		for _, ch := range s.channels {
			candidates = append(candidates, ch)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].DisplayName < candidates[j].DisplayName })

	nowMinutes := now.Unix() / 60
	for _, ch := range candidates {
		if ch.Mode.Secret {
			if _, member := ch.Members[id]; !member {
				continue
			}
		}
		if !passesListOptions(ch, options, nowMinutes) {
			continue
		}
		rb.listItem(nick, ch.DisplayName, len(ch.Members), ch.Topic.Content)
	}
	rb.listEnd(nick)
}

// passesListOptions reproduces the original implementation's (intentionally
// bug-compatible) inverted U</U> semantics: see spec §4.5.11 and §9.
func passesListOptions(ch *Channel, options []ListOption, nowMinutes int64) bool {
	for _, opt := range options {
		switch opt.Filter {
		case ListFilterChannelCreation:
			return false
		case ListFilterTopicUpdate:
			ageMinutes := ch.Topic.TS/60 - nowMinutes
			if opt.Operation == ListOperationInf {
				if !(ageMinutes < opt.Number) {
					return false
				}
			} else if !(ageMinutes > opt.Number) {
				return false
			}
		case ListFilterUserNumber:
			count := int64(len(ch.Members))
			if opt.Operation == ListOperationInf {
				if !(count > opt.Number) {
					return false
				}
			} else if !(count < opt.Number) {
				return false
			}
		}
	}
	return true
}

// --- WHO / WHOIS / USERHOST / NAMES / LUSERS / AWAY / MOTD ------------------

// Who implements spec §4.5.12's WHO mask rule.
func (s *ServerState) Who(id UserID, mask string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nick := s.nickOrStar(id)
	rb := s.replyFor(id)

	if len(mask) > 0 && mask[0] == '#' {
		if ch, ok := s.channels[NewChannelID(mask)]; ok {
			for uid, mode := range ch.Members {
				u := s.users[uid]
				if u == nil {
					continue
				}
				rb.who(nick, ch.DisplayName, u.Username, u.ShownHostname(), u.Nickname, awayFlag(u)+mode.Glyph(), u.Realname)
			}
		}
		rb.endOfWho(nick, mask)
		return
	}

	if kind, _, target := s.lookupTargetLocked(mask); kind == LookupUser {
		rb.who(nick, "*", target.Username, target.ShownHostname(), target.Nickname, awayFlag(target), target.Realname)
		rb.endOfWho(nick, mask)
		return
	}

	if mask == "*" {
		var all []*RegisteredUser
		for _, u := range s.users {
			all = append(all, u)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].Nickname < all[j].Nickname })
		if len(all) > 10 {
			all = all[:10]
		}
		for _, u := range all {
			rb.who(nick, "*", u.Username, u.ShownHostname(), u.Nickname, awayFlag(u), u.Realname)
		}
	}
	rb.endOfWho(nick, mask)
}

func awayFlag(u *RegisteredUser) string {
	if u.IsAway {
		return "G"
	}
	return "H"
}

// Whois implements spec §4.5.12.
func (s *ServerState) Whois(id UserID, target string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nick := s.nickOrStar(id)
	rb := s.replyFor(id)

	kind, _, targetUser := s.lookupTargetLocked(target)
	if kind != LookupUser {
		s.sendError(id, errNoSuchNick(target))
		rb.endOfWhois(nick, target)
		return
	}

	if targetUser.IsAway {
		rb.away(nick, targetUser.Nickname, targetUser.AwayMessage)
	}
	rb.whoisUser(nick, targetUser.Nickname, targetUser.Username, targetUser.ShownHostname(), targetUser.Realname)
	rb.endOfWhois(nick, targetUser.Nickname)
}

// Userhost implements spec §4.5.12.
func (s *ServerState) Userhost(id UserID, nicknames []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tuples []string
	for _, n := range nicknames {
		if kind, _, u := s.lookupTargetLocked(n); kind == LookupUser {
			sign := "+"
			if u.IsAway {
				sign = "-"
			}
			tuples = append(tuples, u.Nickname+"="+sign+u.ShownHostname())
		}
	}
	s.replyFor(id).userhost(s.nickOrStar(id), tuples)
}

// Names implements spec §4.5.12 for an explicit channel list.
func (s *ServerState) Names(id UserID, channelNames []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nick := s.nickOrStar(id)
	rb := s.replyFor(id)

	for _, name := range channelNames {
		ch, ok := s.channels[NewChannelID(name)]
		if !ok {
			rb.endOfNames(nick, name)
			continue
		}
		if ch.Mode.Secret {
			if _, member := ch.Members[id]; !member {
				rb.endOfNames(nick, ch.DisplayName)
				continue
			}
		}
		rb.names(nick, ch.DisplayName, ch, s.users)
	}
}

// Lusers implements spec §4.5.12. An explicit LUSERS command gets the
// extended 265/266 lines; the registration-time snapshot does not.
func (s *ServerState) Lusers(id UserID, extraInfo bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.replyFor(id).lusers(s.nickOrStar(id), len(s.users), len(s.channels), len(s.registeringUsers), extraInfo)
}

// Motd implements spec §4.5.12.
func (s *ServerState) Motd(id UserID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.replyFor(id).motd(s.nickOrStar(id), s.motd)
}

// Away implements spec §4.5.12.
func (s *ServerState) Away(id UserID, message string, hasMessage bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return
	}
	rb := s.replyFor(id)
	if !hasMessage || message == "" {
		user.IsAway = false
		user.AwayMessage = ""
		rb.unAway(user.Nickname)
		return
	}
	user.IsAway = true
	user.AwayMessage = message
	rb.nowAway(user.Nickname)
}

// --- QUIT / disconnect -------------------------------------------------

// Quit implements spec §4.5.13 for both voluntary QUIT and sudden
// disconnect. closeLine, when true, also sends the closing ERROR line to
// the departing connection itself (voluntary QUIT only — a sudden
// disconnect has no one left to write it to).
func (s *ServerState) Quit(id UserID, reason string, closeLine bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		s.removeRegisteringUserLocked(id)
		return
	}

	fullspec := user.Fullspec()
	recipients := map[UserID]struct{}{}
	for cid, ch := range s.channels {
		if _, member := ch.Members[id]; !member {
			continue
		}
		for uid := range ch.Members {
			if uid != id {
				recipients[uid] = struct{}{}
			}
		}
		delete(ch.Members, id)
		if len(ch.Members) == 0 {
			delete(s.channels, cid)
		}
	}

	for uid := range recipients {
		s.replyFor(uid).quit(fullspec, reason)
	}

	if closeLine {
		s.replyFor(id).errorClosingLink(reason)
	}

	delete(s.nicknameOwners, cureNickname(user.Nickname))
	delete(s.users, id)
}

func (s *ServerState) removeRegisteringUserLocked(id UserID) {
	if u, ok := s.registeringUsers[id]; ok {
		delete(s.nicknameOwners, cureNickname(u.Nickname))
		delete(s.registeringUsers, id)
	}
}

// --- helpers ---------------------------------------------------------------

// outboxForLocked finds id's outbox in either registry. Caller must hold
// the lock.
func (s *ServerState) outboxForLocked(id UserID) Outbox {
	if u, ok := s.users[id]; ok {
		return u.Outbox
	}
	if u, ok := s.registeringUsers[id]; ok {
		return u.Outbox
	}
	return nil
}

func (s *ServerState) nickOrStar(id UserID) string {
	if u, ok := s.users[id]; ok {
		return u.Nickname
	}
	if u, ok := s.registeringUsers[id]; ok && u.Nickname != "" {
		return u.Nickname
	}
	return "*"
}

func (s *ServerState) replyFor(id UserID) *replyBuilder {
	ob := s.outboxForLocked(id)
	return newReplyBuilder(s.serverName, func(line []byte) { sendLine(ob, line) })
}

func (s *ServerState) sendError(id UserID, e *StateError) {
	s.replyFor(id).stateError(s.nickOrStar(id), e)
}

// Emit runs fn against a replyBuilder writing to id's outbox, under a read
// lock. It is the entry point Session uses for replies that don't
// otherwise mutate shared state (PING/PONG echoes and the closing ERROR
// line).
func (s *ServerState) Emit(id UserID, fn func(*replyBuilder)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.replyFor(id))
}

// SendStateError emits e to id's outbox using id's current nickname (or
// "*" before one is known) as the reply target.
func (s *ServerState) SendStateError(id UserID, e *StateError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.sendError(id, e)
}

// EmitRegistrationWelcome sends the full post-registration sequence
// (001-005, LUSERS snapshot, MOTD) to a freshly registered connection.
func (s *ServerState) EmitRegistrationWelcome(id UserID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return
	}
	rb := s.replyFor(id)
	rb.welcome(user.Nickname, user.Fullspec(), s.welcomeConfig)
	rb.lusers(user.Nickname, len(s.users), len(s.channels), len(s.registeringUsers), false)
	rb.motd(user.Nickname, s.motd)
}

func (s *ServerState) broadcastChannelLocked(ch *Channel, emit func(*replyBuilder)) {
	for uid := range ch.Members {
		emit(s.replyFor(uid))
	}
}

func validChannelName(name string) bool {
	return len(name) > 0 && name[0] == '#'
}
