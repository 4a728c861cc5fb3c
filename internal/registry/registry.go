// Package registry implements C5's concurrent client registry and
// broadcast fan-out, grounded on
// original_source/service/net/MessageBroadcastService.java, generalized
// from a Java BufferedWriter-per-client model to a raw net.Conn +
// bufio.Writer, and on the teacher's pkg/websocket/manager.go for the
// sync.RWMutex-guarded map shape.
package registry

import (
	"bufio"
	"encoding/json"
	"net"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chatcore/internal/protocol"
	"chatcore/pkg/logger"
)

// Relay is the optional C10 broadcast fan-out across server processes. A
// nil Relay means single-process operation: Registry.Broadcast and
// Registry.SendToUser only reach this process's own local clients.
type Relay interface {
	Publish(env protocol.Envelope)
	PublishToUser(username string, env protocol.Envelope)
}

type client struct {
	id     int64
	conn   net.Conn
	writer *bufio.Writer

	writeMu sync.Mutex

	// username is guarded by Registry.mu, not writeMu: it is read/written
	// far more often by registry-wide scans (online count, snapshot,
	// sendToUser) than by the owning connection itself.
	username string
}

// Registry is the process-wide connected-client set.
type Registry struct {
	mu      sync.RWMutex
	clients map[int64]*client
	relay   Relay
}

func New(relay Relay) *Registry {
	return &Registry{
		clients: make(map[int64]*client),
		relay:   relay,
	}
}

// AddClient registers a freshly accepted connection under clientID.
func (r *Registry) AddClient(clientID int64, conn net.Conn) {
	r.mu.Lock()
	r.clients[clientID] = &client{
		id:     clientID,
		conn:   conn,
		writer: bufio.NewWriter(conn),
	}
	count := len(r.clients)
	r.mu.Unlock()

	logger.Info("client added to registry", zap.Int64("clientId", clientID), zap.Int("connectedCount", count))
}

// RemoveClient drops clientID from the registry. Safe to call more than
// once for the same id.
func (r *Registry) RemoveClient(clientID int64) {
	r.mu.Lock()
	_, existed := r.clients[clientID]
	delete(r.clients, clientID)
	count := len(r.clients)
	r.mu.Unlock()

	if existed {
		logger.Info("client removed from registry", zap.Int64("clientId", clientID), zap.Int("connectedCount", count))
	}
}

// BindUsername associates an authenticated username with clientID. Until
// this is called the connection does not count toward OnlineCount.
func (r *Registry) BindUsername(clientID int64, username string) {
	r.mu.Lock()
	if c, ok := r.clients[clientID]; ok {
		c.username = username
	}
	r.mu.Unlock()
}

// OnlineCount counts connections with a bound, non-blank username.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, c := range r.clients {
		if strings.TrimSpace(c.username) != "" {
			count++
		}
	}
	return count
}

// OnlineUsersSnapshot returns the distinct, case-insensitively deduplicated,
// case-insensitively sorted list of online usernames. When several
// connections bind the same name in different case, the lexicographically
// smallest spelling is kept.
func (r *Registry) OnlineUsersSnapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uniq := make(map[string]string)
	for _, c := range r.clients {
		u := strings.TrimSpace(c.username)
		if u == "" {
			continue
		}
		key := strings.ToLower(u)
		if prev, ok := uniq[key]; !ok || u < prev {
			uniq[key] = u
		}
	}

	out := make([]string, 0, len(uniq))
	for _, u := range uniq {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// Broadcast sends env to every connected client, local and (via the
// optional relay) remote.
func (r *Registry) Broadcast(env protocol.Envelope) {
	r.broadcastLocal(env, 0, false)
	if r.relay != nil {
		r.relay.Publish(env)
	}
}

// BroadcastExcept sends env to every connected client except excludeClientID.
func (r *Registry) BroadcastExcept(excludeClientID int64, env protocol.Envelope) {
	r.broadcastLocal(env, excludeClientID, true)
	if r.relay != nil {
		r.relay.Publish(env)
	}
}

// DeliverLocal writes env to this process's own clients only, without
// forwarding to the relay. It is what a C10 Relay subscriber calls when a
// broadcast published by a sibling process arrives, so that fan-out never
// loops back across processes.
func (r *Registry) DeliverLocal(env protocol.Envelope) {
	r.broadcastLocal(env, 0, false)
}

// DeliverLocalToUser writes env to username's connection on this process
// only, without forwarding to the relay. It is what a C10 Relay subscriber
// calls when a sibling process's SendToUser targets a username that may be
// connected here instead.
func (r *Registry) DeliverLocalToUser(username string, env protocol.Envelope) {
	r.sendToUserLocal(username, env)
}

func (r *Registry) broadcastLocal(env protocol.Envelope, excludeClientID int64, exclude bool) {
	r.mu.RLock()
	targets := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		if exclude && c.id == excludeClientID {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := writeEnvelope(c, env); err != nil {
			logger.Warn("broadcast failed, removing client",
				zap.Int64("clientId", c.id), zap.String("username", c.username), zap.Error(err))
			r.RemoveClient(c.id)
		}
	}
}

// SendToClient delivers env to a specific connection id. Returns false if
// the client is no longer registered or the write failed.
func (r *Registry) SendToClient(clientID int64, env protocol.Envelope) bool {
	r.mu.RLock()
	c, ok := r.clients[clientID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	if err := writeEnvelope(c, env); err != nil {
		logger.Warn("sendToClient failed, removing client", zap.Int64("clientId", clientID), zap.Error(err))
		r.RemoveClient(clientID)
		return false
	}
	return true
}

// SendToUser delivers env to whichever connection has bound username
// (case-insensitively) on this process, and asks the optional relay to
// deliver it on sibling processes too. Its bool result reflects only local
// delivery, matching the pre-relay contract callers already depend on.
func (r *Registry) SendToUser(username string, env protocol.Envelope) bool {
	delivered := r.sendToUserLocal(username, env)
	if r.relay != nil {
		r.relay.PublishToUser(username, env)
	}
	return delivered
}

func (r *Registry) sendToUserLocal(username string, env protocol.Envelope) bool {
	username = strings.TrimSpace(username)
	if username == "" {
		return false
	}

	r.mu.RLock()
	var target *client
	for _, c := range r.clients {
		if strings.EqualFold(c.username, username) {
			target = c
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		return false
	}

	if err := writeEnvelope(target, env); err != nil {
		logger.Warn("sendToUser failed, removing client",
			zap.Int64("clientId", target.id), zap.String("username", username), zap.Error(err))
		r.RemoveClient(target.id)
		return false
	}
	return true
}

func writeEnvelope(c *client, env protocol.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.writer.Write(body); err != nil {
		return err
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return err
	}
	return c.writer.Flush()
}
