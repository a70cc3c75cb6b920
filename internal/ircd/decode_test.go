package ircd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horgh/ircd/internal/irc"
)

func mustDecode(t *testing.T, command string, params ...string) Command {
	t.Helper()
	cmd, err := Decode(irc.Message{Command: command, Params: params})
	require.NoError(t, err)
	return cmd
}

func TestDecodeNick(t *testing.T) {
	cmd := mustDecode(t, "NICK", "alice")
	assert.Equal(t, CmdNick, cmd.Kind)
	assert.Equal(t, "alice", cmd.Nick)
}

func TestDecodeNickMissingFails(t *testing.T) {
	_, err := Decode(irc.Message{Command: "NICK"})
	require.Error(t, err)
	assert.Equal(t, NoNicknameGiven, err.(*DecodeError).Kind)
}

func TestDecodeUserRequiresFourParams(t *testing.T) {
	_, err := Decode(irc.Message{Command: "USER", Params: []string{"alice", "0", "*"}})
	require.Error(t, err)
	assert.Equal(t, NotEnoughParameters, err.(*DecodeError).Kind)

	cmd := mustDecode(t, "USER", "alice", "0", "*", "Alice Example")
	assert.Equal(t, CmdUser, cmd.Kind)
	assert.Equal(t, "alice", cmd.User)
	assert.Equal(t, "Alice Example", cmd.RealName)
}

func TestDecodeJoinSplitsChannelsAndKeys(t *testing.T) {
	cmd := mustDecode(t, "JOIN", "#a,#b", "key1,key2")
	assert.Equal(t, []string{"#a", "#b"}, cmd.Channels)
	assert.Equal(t, []string{"key1", "key2"}, cmd.Keys)
}

func TestDecodeModeRequiresChannelTarget(t *testing.T) {
	_, err := Decode(irc.Message{Command: "MODE", Params: []string{"bob", "+i"}})
	require.Error(t, err)
	assert.Equal(t, NoRecipient, err.(*DecodeError).Kind)

	cmd := mustDecode(t, "MODE", "#room", "+o", "bob")
	assert.Equal(t, "#room", cmd.Channel)
	assert.True(t, cmd.HasMode)
	assert.Equal(t, "+o", cmd.ModeChange)
	assert.Equal(t, "bob", cmd.ModeParam)
}

func TestDecodeModeQueryHasNoModeChange(t *testing.T) {
	cmd := mustDecode(t, "MODE", "#room")
	assert.False(t, cmd.HasMode)
}

func TestDecodePrivMsgRequiresTargetAndContent(t *testing.T) {
	_, err := Decode(irc.Message{Command: "PRIVMSG"})
	require.Error(t, err)
	assert.Equal(t, NoRecipient, err.(*DecodeError).Kind)

	_, err = Decode(irc.Message{Command: "PRIVMSG", Params: []string{"#room"}})
	require.Error(t, err)
	assert.Equal(t, NoTextToSend, err.(*DecodeError).Kind)

	cmd := mustDecode(t, "PRIVMSG", "#room", "hello")
	assert.Equal(t, "#room", cmd.Target)
	assert.Equal(t, "hello", cmd.Content)
}

func TestDecodeNoticeIsSilentOnMissingParams(t *testing.T) {
	_, err := Decode(irc.Message{Command: "NOTICE", Params: []string{"#room"}})
	require.Error(t, err)
	assert.Equal(t, SilentError, err.(*DecodeError).Kind)

	de := &DecodeError{Kind: SilentError}
	assert.Nil(t, de.ToStateError())
}

func TestDecodeListOptions(t *testing.T) {
	cmd := mustDecode(t, "LIST", "", "U<10,T>5")
	require.Len(t, cmd.ListOptions, 2)
	assert.Equal(t, ListFilterUserNumber, cmd.ListOptions[0].Filter)
	assert.Equal(t, ListOperationInf, cmd.ListOptions[0].Operation)
	assert.EqualValues(t, 10, cmd.ListOptions[0].Number)
	assert.Equal(t, ListFilterTopicUpdate, cmd.ListOptions[1].Filter)
	assert.Equal(t, ListOperationSup, cmd.ListOptions[1].Operation)
}

func TestDecodeListBadIntegerFails(t *testing.T) {
	_, err := Decode(irc.Message{Command: "LIST", Params: []string{"", "U<abc"}})
	require.Error(t, err)
	assert.Equal(t, CannotParseInteger, err.(*DecodeError).Kind)
}

func TestDecodeUserhostCapsAtFive(t *testing.T) {
	cmd := mustDecode(t, "USERHOST", "a", "b", "c", "d", "e", "f")
	assert.Len(t, cmd.Nicknames, 5)
}

func TestDecodeUnknownCommand(t *testing.T) {
	cmd := mustDecode(t, "FROB", "x")
	assert.Equal(t, CmdUnknown, cmd.Kind)
	assert.Equal(t, "FROB", cmd.Unknown)
}

func TestDecodeQuitOptionalMessage(t *testing.T) {
	cmd := mustDecode(t, "QUIT")
	assert.False(t, cmd.HasMessage)

	cmd = mustDecode(t, "QUIT", "goodbye")
	assert.True(t, cmd.HasMessage)
	assert.Equal(t, "goodbye", cmd.Message)
}

func TestDecodeErrorToStateErrorMapping(t *testing.T) {
	cases := []struct {
		kind    DecodeErrorKind
		numeric string
	}{
		{CannotDecodeUtf8, "400"},
		{NotEnoughParameters, "461"},
		{CannotParseInteger, "400"},
		{NoNicknameGiven, "431"},
		{NoTextToSend, "412"},
		{NoRecipient, "411"},
	}
	for _, tc := range cases {
		e := &DecodeError{Kind: tc.kind, Command: "X"}
		se := e.ToStateError()
		require.NotNil(t, se)
		assert.Equal(t, tc.numeric, se.Numeric)
	}
}
