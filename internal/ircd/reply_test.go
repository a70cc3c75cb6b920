package ircd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLines() (*replyBuilder, func() []string) {
	var lines []string
	rb := newReplyBuilder("srv", func(line []byte) { lines = append(lines, string(line)) })
	return rb, func() []string { return lines }
}

func TestReplyWelcomeSequenceIncludesISupportWhenEnabled(t *testing.T) {
	rb, get := captureLines()
	rb.welcome("alice", "alice!alice@hidden", WelcomeConfig{SendISupport: true})
	lines := get()
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], ":srv 001 alice :Welcome to the Internet Relay Network alice!alice@hidden"))
	assert.Equal(t, ":srv 004 alice srv 0 a a\r\n", lines[3])
	assert.Contains(t, lines[4], "005 alice CASEMAPPING=rfc7613")
}

func TestReplyWelcomeSequenceOmitsISupportWhenDisabled(t *testing.T) {
	rb, get := captureLines()
	rb.welcome("alice", "alice!alice@hidden", WelcomeConfig{SendISupport: false})
	assert.Len(t, get(), 4)
}

func TestReplyEventLinesOmitColonWhereTheWireFormatDoes(t *testing.T) {
	rb, get := captureLines()
	rb.join("alice!alice@hidden", "#room")
	rb.modeEvent("alice!alice@hidden", "#room", "+m", "")
	rb.modeEvent("alice!alice@hidden", "#room", "+o", "bob")
	rb.channelMode("alice", "#room", ChannelMode{NoExternal: true})
	rb.nick("alice!alice@hidden", "alicia")
	lines := get()
	require.Len(t, lines, 5)
	assert.Equal(t, ":alice!alice@hidden JOIN #room\r\n", lines[0])
	assert.Equal(t, ":alice!alice@hidden MODE #room +m\r\n", lines[1])
	assert.Equal(t, ":alice!alice@hidden MODE #room +o bob\r\n", lines[2])
	assert.Equal(t, ":srv 324 alice #room +n\r\n", lines[3])
	assert.Equal(t, ":alice!alice@hidden NICK :alicia\r\n", lines[4])
}

func TestReplyPingPongCarryServerPrefix(t *testing.T) {
	rb, get := captureLines()
	rb.ping("tok")
	rb.pong("tok")
	lines := get()
	require.Len(t, lines, 2)
	assert.Equal(t, ":srv PING :tok\r\n", lines[0])
	assert.Equal(t, ":srv PONG srv :tok\r\n", lines[1])
}

func TestReplyTopicTimestampLineHasNoTrailingColon(t *testing.T) {
	rb, get := captureLines()
	rb.topicReply("alice", "#room", Topic{Content: "hi", TS: 1700000000, FromNickname: "bob"})
	lines := get()
	require.Len(t, lines, 2)
	assert.Equal(t, ":srv 332 alice #room :hi\r\n", lines[0])
	assert.Equal(t, ":srv 333 alice #room bob 1700000000\r\n", lines[1])
}

func TestReplyEveryLineEndsCRLF(t *testing.T) {
	rb, get := captureLines()
	rb.motd("alice", []string{"hello", "world"})
	for _, line := range get() {
		assert.True(t, strings.HasSuffix(line, "\r\n"))
		assert.LessOrEqual(t, len(line), 512)
	}
}

func TestReplyChannelModeStringOrderIsNSMT(t *testing.T) {
	mode := ChannelMode{NoExternal: true, Secret: true, Moderated: true, TopicProtected: true}
	assert.Equal(t, "+nsmt", mode.String())
}

func TestReplyStateErrorUsesStarBeforeNick(t *testing.T) {
	rb, get := captureLines()
	rb.stateError("", errNicknameInUse("alice"))
	lines := get()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "433 * alice :Nickname is already in use")
}
