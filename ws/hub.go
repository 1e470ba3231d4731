package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teamloop/teamloop/globals"
	"github.com/teamloop/teamloop/types"
)

const (
	maxMessageSize      = 65536
	pongWait            = 2 * time.Minute
	pingPeriod          = time.Minute
	writeWait           = 10 * time.Second
	sendChannelSize     = 1000
	eventChannelSize    = 16
)

// hubEvent carries connection lifecycle changes through a single channel so
// that a register and the unregister for the same connection are always
// applied in the order they were produced.
type hubEvent struct {
	client *Client
	drop   bool
}

// Hub is the process-local connection registry and room broadcaster. One hub
// per process; all state is ephemeral and resets on restart (presence goes
// offline, clients rejoin their rooms).
type Hub struct {
	// Registered clients.
	clients map[*Client]struct{}

	// Connection registry: one active slot per user, last connection wins.
	byUser map[string]*Client

	// Named broadcast groups.
	rooms map[string]map[*Client]struct{}

	// Connection lifecycle events, consumed by Run.
	events chan hubEvent

	// mutex for manipulating clients, registry and rooms
	sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		byUser:  make(map[string]*Client),
		rooms:   make(map[string]map[*Client]struct{}),
		events:  make(chan hubEvent, eventChannelSize),
	}
}

// Register queues the connection for registration.
func (h *Hub) Register(client *Client) {
	h.events <- hubEvent{client: client}
}

// Unregister queues the connection for removal.
func (h *Hub) Unregister(client *Client) {
	h.events <- hubEvent{client: client, drop: true}
}

// Run is the main hub event loop handling register and unregister events.
func (h *Hub) Run() {
	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := cronRunner.AddFunc("@every 1m", func() {
		clients, rooms := h.counts()
		globals.AppLogger.Info("hub stats", "clients", clients, "rooms", rooms)
	})
	if err != nil {
		globals.AppLogger.Error("could not schedule hub stats", "error", err)
	}
	cronRunner.Start()
	defer cronRunner.Stop()
	for ev := range h.events {
		if ev.drop {
			h.unregister(ev.client)
		} else {
			h.register(ev.client)
		}
	}
}

func (h *Hub) register(client *Client) {
	userId := client.user.Id
	h.Lock()
	h.clients[client] = struct{}{}
	// last connection wins, any prior entry loses its presence slot
	h.byUser[userId] = client
	h.joinLocked(client, types.UserRoom(userId))
	h.Unlock()
	globals.AppLogger.Debug("registered connection", "user", userId)

	client.send(types.EventConnected, types.ConnectedPayload{User: client.user, ServerTime: time.Now()})
	h.BroadcastToAll(types.EventUserOnline, types.PresencePayload{UserId: userId, IsOnline: true}, userId)
}

func (h *Hub) unregister(client *Client) {
	userId := client.user.Id
	h.Lock()
	if _, ok := h.clients[client]; !ok {
		h.Unlock()
		return
	}
	delete(h.clients, client)
	for room := range client.roomSet {
		h.leaveLocked(client, room)
	}
	wasCurrent := h.byUser[userId] == client
	if wasCurrent {
		delete(h.byUser, userId)
	}
	// close is safe: every write to Send checks registry membership under
	// the hub lock, and the client was just removed
	client.conn.Close()
	close(client.Send)
	h.Unlock()
	globals.AppLogger.Debug("unregistered connection", "user", userId)

	// a stale connection superseded by a newer one must not flip the user
	// offline
	if wasCurrent {
		now := time.Now()
		h.BroadcastToAll(types.EventUserOffline, types.PresencePayload{UserId: userId, IsOnline: false, LastSeen: &now}, userId)
	}
}

// NoClients returns the number of clients registered.
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

func (h *Hub) counts() (int, int) {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients), len(h.rooms)
}

// IsUserOnline reports whether the user currently holds a registry entry.
func (h *Hub) IsUserOnline(userId string) bool {
	h.RLock()
	defer h.RUnlock()
	_, ok := h.byUser[userId]
	return ok
}

// JoinRoom adds the connection to a named room.
func (h *Hub) JoinRoom(client *Client, room string) {
	h.Lock()
	h.joinLocked(client, room)
	h.Unlock()
}

// LeaveRoom removes the connection from a named room.
func (h *Hub) LeaveRoom(client *Client, room string) {
	h.Lock()
	h.leaveLocked(client, room)
	h.Unlock()
}

func (h *Hub) joinLocked(client *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[client] = struct{}{}
	client.roomSet[room] = struct{}{}
}

func (h *Hub) leaveLocked(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(client.roomSet, room)
}

// BroadcastToRoom delivers an event to every member of the room except the
// connection registered for exceptUserId (pass "" to deliver to everyone).
// Sending to a room with no members is a no-op. Delivery order matches call
// order per room.
func (h *Hub) BroadcastToRoom(room, event string, payload interface{}, exceptUserId string) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	defer h.RUnlock()
	for client := range h.rooms[room] {
		if exceptUserId != "" && client.user.Id == exceptUserId {
			continue
		}
		client.deliver(data)
	}
}

// BroadcastToUser delivers an event to the user's active connection, if any.
// Offline users are silently skipped, nothing is queued.
func (h *Hub) BroadcastToUser(userId, event string, payload interface{}) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	defer h.RUnlock()
	if client, ok := h.byUser[userId]; ok {
		client.deliver(data)
	}
}

// BroadcastToAll delivers an event to every registered connection except the
// one belonging to exceptUserId.
func (h *Hub) BroadcastToAll(event string, payload interface{}, exceptUserId string) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	defer h.RUnlock()
	for client := range h.clients {
		if exceptUserId != "" && client.user.Id == exceptUserId {
			continue
		}
		client.deliver(data)
	}
}

func marshalEvent(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(types.WebsocketMessage{Event: event, Data: data})
}
