package registry

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/protocol"
)

// pipeConn returns one end of a net.Pipe wired into the registry and the
// other end for the test to read assertions from.
func pipeConn(t *testing.T) (serverSide, testSide net.Conn) {
	t.Helper()
	serverSide, testSide = net.Pipe()
	t.Cleanup(func() { serverSide.Close(); testSide.Close() })
	return serverSide, testSide
}

// readEnvelope reads one newline-delimited JSON envelope off conn. It must
// run in its own goroutine relative to whatever triggers the write, since
// net.Pipe is unbuffered and synchronous on both ends.
func readEnvelope(t *testing.T, conn net.Conn) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal([]byte(line), &env))
	return env
}

type fakeRelay struct {
	mu             sync.Mutex
	published      []protocol.Envelope
	publishedUsers []string
}

func (f *fakeRelay) Publish(env protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
}

func (f *fakeRelay) PublishToUser(username string, env protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishedUsers = append(f.publishedUsers, username)
}

func (f *fakeRelay) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeRelay) userCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.publishedUsers)
}

func TestRegistry_AddBindOnlineCountAndSnapshot(t *testing.T) {
	reg := New(nil)
	server1, _ := pipeConn(t)
	server2, _ := pipeConn(t)

	reg.AddClient(1, server1)
	reg.AddClient(2, server2)
	assert.Equal(t, 0, reg.OnlineCount())

	reg.BindUsername(1, "Alice")
	reg.BindUsername(2, "bob")
	assert.Equal(t, 2, reg.OnlineCount())
	assert.Equal(t, []string{"Alice", "bob"}, reg.OnlineUsersSnapshot())
}

func TestRegistry_OnlineUsersSnapshot_DedupesCaseInsensitively(t *testing.T) {
	reg := New(nil)
	server1, _ := pipeConn(t)
	server2, _ := pipeConn(t)

	reg.AddClient(1, server1)
	reg.AddClient(2, server2)
	reg.BindUsername(1, "Alice")
	reg.BindUsername(2, "alice")

	assert.Equal(t, 1, reg.OnlineCount())
	assert.Equal(t, []string{"Alice"}, reg.OnlineUsersSnapshot())
}

func TestRegistry_RemoveClient_DropsFromOnlineCount(t *testing.T) {
	reg := New(nil)
	server1, _ := pipeConn(t)
	reg.AddClient(1, server1)
	reg.BindUsername(1, "alice")
	require.Equal(t, 1, reg.OnlineCount())

	reg.RemoveClient(1)
	assert.Equal(t, 0, reg.OnlineCount())
	assert.False(t, reg.SendToClient(1, protocol.ErrorEnvelope("X", "y")))
}

func TestRegistry_Broadcast_DeliversToAllClientsAndRelay(t *testing.T) {
	relay := &fakeRelay{}
	reg := New(relay)
	server1, test1 := pipeConn(t)
	server2, test2 := pipeConn(t)
	reg.AddClient(1, server1)
	reg.AddClient(2, server2)

	env := protocol.ErrorEnvelope("X", "broadcast")
	go reg.Broadcast(env)

	// Broadcast writes to recipients one after another in map order, so the
	// two pipes are read concurrently.
	got2 := make(chan protocol.Envelope, 1)
	go func() {
		test2.SetReadDeadline(time.Now().Add(2 * time.Second))
		var decoded protocol.Envelope
		if line, err := bufio.NewReader(test2).ReadString('\n'); err == nil {
			_ = json.Unmarshal([]byte(line), &decoded)
		}
		got2 <- decoded
	}()
	got1 := readEnvelope(t, test1)
	assert.Equal(t, env.Type, got1.Type)
	assert.Equal(t, env.Type, (<-got2).Type)

	require.Eventually(t, func() bool { return relay.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRegistry_BroadcastExcept_SkipsExcludedClient(t *testing.T) {
	reg := New(nil)
	server1, test1 := pipeConn(t)
	server2, _ := pipeConn(t)
	reg.AddClient(1, server1)
	reg.AddClient(2, server2)

	env := protocol.ErrorEnvelope("X", "except")
	go reg.BroadcastExcept(2, env)

	got := readEnvelope(t, test1)
	assert.Equal(t, env.Type, got.Type)
}

func TestRegistry_DeliverLocal_DoesNotRePublish(t *testing.T) {
	relay := &fakeRelay{}
	reg := New(relay)
	server1, test1 := pipeConn(t)
	reg.AddClient(1, server1)

	env := protocol.ErrorEnvelope("X", "relayed-in")
	go reg.DeliverLocal(env)

	got := readEnvelope(t, test1)
	assert.Equal(t, env.Type, got.Type)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, relay.count())
}

func TestRegistry_SendToUser_DeliversToMatchingUsernameCaseInsensitively(t *testing.T) {
	reg := New(nil)
	server1, test1 := pipeConn(t)
	reg.AddClient(1, server1)
	reg.BindUsername(1, "Alice")

	env := protocol.ErrorEnvelope("X", "dm")
	var ok bool
	go func() { ok = reg.SendToUser("ALICE", env) }()

	got := readEnvelope(t, test1)
	assert.Equal(t, env.Type, got.Type)
	require.Eventually(t, func() bool { return ok }, time.Second, 10*time.Millisecond)
}

func TestRegistry_SendToUser_PublishesToRelay(t *testing.T) {
	relay := &fakeRelay{}
	reg := New(relay)
	server1, test1 := pipeConn(t)
	reg.AddClient(1, server1)
	reg.BindUsername(1, "alice")

	env := protocol.ErrorEnvelope("X", "dm")
	go reg.SendToUser("alice", env)

	readEnvelope(t, test1)
	require.Eventually(t, func() bool { return relay.userCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, relay.count())
}

func TestRegistry_DeliverLocalToUser_DoesNotRePublish(t *testing.T) {
	relay := &fakeRelay{}
	reg := New(relay)
	server1, test1 := pipeConn(t)
	reg.AddClient(1, server1)
	reg.BindUsername(1, "alice")

	env := protocol.ErrorEnvelope("X", "dm")
	go reg.DeliverLocalToUser("alice", env)

	readEnvelope(t, test1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, relay.count())
	assert.Equal(t, 0, relay.userCount())
}

func TestRegistry_SendToUser_ReturnsFalseWhenOffline(t *testing.T) {
	reg := New(nil)
	assert.False(t, reg.SendToUser("ghost", protocol.ErrorEnvelope("X", "y")))
}

func TestRegistry_SendToClient_RemovesClientOnWriteFailure(t *testing.T) {
	reg := New(nil)
	server1, test1 := pipeConn(t)
	reg.AddClient(1, server1)
	test1.Close()
	server1.Close()

	ok := reg.SendToClient(1, protocol.ErrorEnvelope("X", "y"))
	assert.False(t, ok)
	assert.False(t, reg.SendToClient(1, protocol.ErrorEnvelope("X", "y")))
}
