package ircd

import (
	"bufio"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testClient is a minimal in-process TCP harness: it dials the server
// under test and lets callers write raw lines and read replies back,
// modeled on the teacher's subprocess-based Client helper but driven
// against a goroutine-hosted in-process server instead of a compiled
// binary.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

// loopbackHosts gives each test client its own 127.0.0.x source address.
// The server's per-IP admission gate refuses a second immediate
// connection from the same address, so clients that all dialed from
// 127.0.0.1 would have every connection after the first one closed.
var loopbackHosts uint32

func dialTestClient(t *testing.T, addr string) *testClient {
	t.Helper()
	host := byte(2 + atomic.AddUint32(&loopbackHosts, 1)%250)
	d := net.Dialer{
		Timeout:   2 * time.Second,
		LocalAddr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, host)},
	}
	conn, err := d.Dial("tcp", addr)
	require.NoError(t, err)
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

func (c *testClient) expectLine(contains string) string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	require.Contains(c.t, line, contains)
	return line
}

func startTestServer(t *testing.T) string {
	t.Helper()
	cfg := &Config{
		ServerName:    "srv",
		Address:       "127.0.0.1",
		Port:          0,
		WelcomeConfig: WelcomeYAML{SendISupport: true},
	}
	srv := NewServer(cfg)
	require.NoError(t, srv.Listen())
	addr := srv.listener.Addr().String()
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return addr
}

func TestIntegrationRegistrationAndWelcome(t *testing.T) {
	addr := startTestServer(t)
	a := dialTestClient(t, addr)
	a.send("NICK alice")
	a.send("USER alice 0 * :Alice")

	a.expectLine("001 alice")
	a.expectLine("002 alice")
	a.expectLine("003 alice")
	a.expectLine("004 alice")
	a.expectLine("005 alice")
	a.expectLine("251")
	a.expectLine("252")
	a.expectLine("253")
	a.expectLine("254")
	a.expectLine("255")
	a.expectLine("422 alice :MOTD File is missing")
}

func TestIntegrationNicknameCollisionDuringRegistration(t *testing.T) {
	addr := startTestServer(t)
	a := dialTestClient(t, addr)
	a.send("NICK alice")
	a.send("USER alice 0 * :Alice")
	a.expectLine("001 alice")

	b := dialTestClient(t, addr)
	b.send("NICK ALICE")
	b.send("USER b 0 * :B")
	b.expectLine("433 * ALICE :Nickname is already in use")
}

func TestIntegrationJoinAndNames(t *testing.T) {
	addr := startTestServer(t)
	a := dialTestClient(t, addr)
	a.send("NICK alice")
	a.send("USER alice 0 * :Alice")
	for i := 0; i < 11; i++ {
		a.expectLine("")
	}

	a.send("JOIN #room")
	a.expectLine("JOIN #room")
	a.expectLine("353 alice = #room :@alice")
	a.expectLine("366 alice #room")
}

func TestIntegrationModeratedChannelRejectsMessage(t *testing.T) {
	addr := startTestServer(t)
	a := dialTestClient(t, addr)
	a.send("NICK alice")
	a.send("USER alice 0 * :Alice")
	for i := 0; i < 11; i++ {
		a.expectLine("")
	}
	a.send("JOIN #room")
	a.expectLine("JOIN")
	a.expectLine("353")
	a.expectLine("366")
	a.send("MODE #room +m")
	a.expectLine("MODE #room +m")

	b := dialTestClient(t, addr)
	b.send("NICK bob")
	b.send("USER bob 0 * :Bob")
	for i := 0; i < 11; i++ {
		b.expectLine("")
	}
	b.send("JOIN #room")
	b.expectLine("JOIN")
	a.expectLine("JOIN")
	b.expectLine("353")
	b.expectLine("366")

	b.send("PRIVMSG #room :hi")
	b.expectLine("404 bob #room :Cannot send to channel")
}
