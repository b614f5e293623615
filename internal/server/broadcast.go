package server

import (
	"log"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

// Broadcaster delivers server messages to live connections. Audiences are
// always derived from the Registry. It is owned by the ChatServer run
// loop and is not safe for concurrent use.
type Broadcaster struct {
	log      *log.Logger
	registry *Registry
	clients  map[string]*Client
}

func NewBroadcaster(logger *log.Logger, registry *Registry) *Broadcaster {
	return &Broadcaster{
		log:      logger,
		registry: registry,
		clients:  make(map[string]*Client),
	}
}

func (b *Broadcaster) Attach(c *Client) {
	b.clients[c.id] = c
}

// Detach forgets the connection. It reports false if it was not attached.
func (b *Broadcaster) Detach(connId string) bool {
	if _, ok := b.clients[connId]; !ok {
		return false
	}

	delete(b.clients, connId)
	return true
}

func (b *Broadcaster) Client(connId string) (*Client, bool) {
	c, ok := b.clients[connId]
	return c, ok
}

func (b *Broadcaster) Clients() []*Client {
	out := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, c)
	}
	return out
}

func (b *Broadcaster) Len() int {
	return len(b.clients)
}

// SendTo queues msg for a single connection. Delivery is best effort.
func (b *Broadcaster) SendTo(connId string, msg *ServerMessage) bool {
	c, ok := b.clients[connId]
	if !ok {
		return false
	}

	return c.queueMessage(msg)
}

func (b *Broadcaster) ToRoom(room string, msg *ServerMessage) {
	b.ToRoomExcept(room, "", msg)
}

func (b *Broadcaster) ToRoomExcept(room, excludeId string, msg *ServerMessage) {
	for _, u := range b.registry.MembersOf(room) {
		if u.ConnectionId == excludeId {
			continue
		}

		if !b.SendTo(u.ConnectionId, msg) {
			b.log.Printf("dropped message for %q in room %q", u.Username, room)
		}
	}
}

// PublishMembership sends the current member list of room to each of its
// members.
func (b *Broadcaster) PublishMembership(room string) {
	members := b.registry.MembersOf(room)

	users := make([]types.User, 0, len(members))
	for _, u := range members {
		users = append(users, u.View())
	}

	msg := RoomUsers(room, users)
	for _, u := range members {
		b.SendTo(u.ConnectionId, msg)
	}
}
