package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/moderation"
	"github.com/npezzotti/go-chatrelay/internal/ratelimit"
	"github.com/npezzotti/go-chatrelay/internal/stats"
)

var ErrServerStopped = errors.New("chat server stopped")

// frameOverhead covers the envelope and the recipient of a private message.
const frameOverhead = 4096

// readLimitFor bounds inbound frames so that any message of maxLen
// characters fits even when every character is JSON-escaped as a
// surrogate pair (12 bytes). Longer text reaches the length check and is
// answered with message_error instead of closing the connection.
func readLimitFor(maxLen int) int64 {
	return int64(12*maxLen + frameOverhead)
}

// ChatServer coordinates joins, message fan-out and moderation. All
// connection events are serialized through Run, so membership changes in
// a room reach its members in the order they happened.
type ChatServer struct {
	log            *log.Logger
	stats          stats.StatsProvider
	registry       *Registry
	broadcaster    *Broadcaster
	limiter        *ratelimit.Limiter
	filter         *moderation.Filter
	maxMessageLen  int
	readLimit      int64
	graceDelay     time.Duration
	afterFunc      func(d time.Duration, f func())
	registerChan   chan *Client
	deRegisterChan chan *Client
	clientMsgChan  chan *ClientMessage
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, cfg *config.Config, verifier Verifier, su stats.StatsProvider) (*ChatServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	filter := moderation.NewFilter(cfg.Lexicon)
	registry := NewRegistry(filter, verifier, cfg.IsAdmin)

	for _, m := range stats.ChatMetrics {
		su.RegisterMetric(m)
	}

	return &ChatServer{
		log:            logger,
		stats:          su,
		registry:       registry,
		broadcaster:    NewBroadcaster(logger, registry),
		limiter:        ratelimit.New(cfg.MaxMessages, cfg.RateWindow),
		filter:         filter,
		maxMessageLen:  cfg.MaxMessageLength,
		readLimit:      readLimitFor(cfg.MaxMessageLength),
		graceDelay:     cfg.GraceDelay,
		afterFunc:      func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		clientMsgChan:  make(chan *ClientMessage, 256),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case c := <-cs.registerChan:
			cs.addClient(c)
		case c := <-cs.deRegisterChan:
			cs.removeClient(c)
		case msg := <-cs.clientMsgChan:
			cs.handleClientMessage(msg)
		case <-cs.stop:
			cs.log.Println("stopping chat server")
			for _, c := range cs.broadcaster.Clients() {
				c.stopClient()
			}

			close(cs.done)
			return
		}
	}
}

// RegisterClient hands a freshly upgraded connection to the run loop.
func (cs *ChatServer) RegisterClient(c *Client) error {
	select {
	case cs.registerChan <- c:
		return nil
	case <-cs.done:
		return ErrServerStopped
	}
}

func (cs *ChatServer) submit(msg *ClientMessage) bool {
	select {
	case cs.clientMsgChan <- msg:
		return true
	case <-cs.done:
		return false
	}
}

func (cs *ChatServer) deregister(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	select {
	case cs.stop <- struct{}{}:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsBanned reports whether username is on the ban list. Safe for
// concurrent use.
func (cs *ChatServer) IsBanned(username string) bool {
	return cs.registry.IsBanned(username)
}

// ValidUsername applies the username pattern and lexicon screen. Safe for
// concurrent use.
func (cs *ChatServer) ValidUsername(username string) bool {
	return cs.filter.ValidateUsername(username)
}

func (cs *ChatServer) addClient(c *Client) {
	c.state = stateConnected
	cs.broadcaster.Attach(c)
	cs.stats.Incr(stats.NumActiveClients)
	cs.log.Printf("client %s connected", c.id)
}

func (cs *ChatServer) removeClient(c *Client) {
	if !cs.broadcaster.Detach(c.id) {
		return
	}

	c.state = stateDisconnected
	cs.limiter.Forget(c.id)
	cs.stats.Decr(stats.NumActiveClients)

	if user, ok := cs.registry.Unregister(c.id); ok {
		cs.stats.Decr(stats.NumJoinedUsers)
		cs.broadcaster.ToRoomExcept(user.Room, c.id, UserLeft(user.Username))
		cs.broadcaster.PublishMembership(user.Room)
		cs.log.Printf("%s left room %q", user.Username, user.Room)
	}

	c.stopClient()
	cs.log.Printf("client %s disconnected", c.id)
}

func (cs *ChatServer) handleClientMessage(msg *ClientMessage) {
	c := msg.client
	if c.state == stateDisconnected {
		return
	}

	switch {
	case msg.Join != nil:
		cs.handleJoin(c, msg.Join)
	case msg.SendMessage != nil:
		cs.handleSendMessage(c, msg.SendMessage)
	case msg.Typing != nil:
		cs.handleTyping(c, msg.Typing)
	case msg.PrivateMessage != nil:
		cs.handlePrivateMessage(c, msg.PrivateMessage)
	case msg.AdminCommand != nil:
		cs.handleAdminCommand(c, msg.AdminCommand)
	default:
		cs.log.Printf("ignoring unrecognized message from %s", c.id)
	}
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidUsername):
		return msgInvalidUsername
	case errors.Is(err, ErrBanned):
		return msgBanned
	case errors.Is(err, ErrUsernameTaken):
		return msgUsernameTaken
	case errors.Is(err, ErrAlreadyJoined):
		return msgAlreadyJoined
	case errors.Is(err, ErrRoomRequired):
		return msgRoomRequired
	}
	return err.Error()
}

func (cs *ChatServer) handleJoin(c *Client, join *Join) {
	username := moderation.Sanitize(join.Username)
	room := moderation.Sanitize(join.Room)

	user, err := cs.registry.Register(c.id, username, room, join.SessionId)
	if err != nil {
		if errors.Is(err, ErrNotVerified) {
			c.queueMessage(VerificationRequired())
			return
		}

		cs.log.Printf("join rejected for %q in room %q: %v", username, room, err)
		c.queueMessage(ErrJoin(joinErrorMessage(err)))
		return
	}

	c.state = stateJoined
	cs.stats.Incr(stats.NumJoinedUsers)

	cs.broadcaster.ToRoomExcept(user.Room, c.id, UserJoined(user.Username))
	cs.broadcaster.PublishMembership(user.Room)
	c.queueMessage(Welcome(user.Username))

	cs.log.Printf("%s joined room %q (admin=%t)", user.Username, user.Room, user.IsAdmin)
}

// joinedUser returns the registry record for c, if c is joined.
func (cs *ChatServer) joinedUser(c *Client) (ConnectedUser, bool) {
	if c.state != stateJoined {
		return ConnectedUser{}, false
	}

	return cs.registry.Get(c.id)
}

// screenMessage applies rate limiting, sanitizing, the length check and
// the content filter to an outgoing text. It reports false if the text
// must not be delivered; the sender has already been told why.
func (cs *ChatServer) screenMessage(c *Client, user ConnectedUser, raw, filteredNotice string) (string, bool) {
	if cs.limiter.CheckAndRecord(c.id) {
		cs.stats.Incr(stats.RateLimited)
		cs.log.Printf("rate limited %s", user.Username)
		c.queueMessage(RateLimitWarning())
		return "", false
	}

	text := moderation.Sanitize(raw)
	if n := utf8.RuneCountInString(text); n == 0 || n > cs.maxMessageLen {
		c.queueMessage(ErrMessage(fmt.Sprintf("Message must be between 1 and %d characters", cs.maxMessageLen)))
		return "", false
	}

	if cs.filter.ContainsProhibited(text) {
		filtered := cs.filter.Redact(text)
		c.queueMessage(ContentWarningMessage(filteredNotice, text, filtered))
		cs.stats.Incr(stats.MessagesFiltered)
		cs.log.Printf("content filtered for %s: %q -> %q", user.Username, text, filtered)
		text = filtered
	}

	return text, true
}

func (cs *ChatServer) handleSendMessage(c *Client, sm *SendMessage) {
	user, ok := cs.joinedUser(c)
	if !ok {
		return
	}

	text, ok := cs.screenMessage(c, user, sm.Message, msgContentFiltered)
	if !ok {
		return
	}

	cs.broadcaster.ToRoom(user.Room, ReceiveMessage(user, text))
	cs.stats.Incr(stats.MessagesRelayed)
}

func (cs *ChatServer) handleTyping(c *Client, t *Typing) {
	user, ok := cs.joinedUser(c)
	if !ok {
		return
	}

	cs.broadcaster.ToRoomExcept(user.Room, c.id, UserTypingMessage(user.Username, t.IsTyping))
}

// findRecipient prefers a user in room and falls back to the oldest
// match anywhere.
func (cs *ChatServer) findRecipient(room, username string) (ConnectedUser, bool) {
	if u, ok := cs.registry.FindByUsername(room, username); ok {
		return u, true
	}

	if matches := cs.registry.Lookup(username); len(matches) > 0 {
		return matches[0], true
	}

	return ConnectedUser{}, false
}

func (cs *ChatServer) handlePrivateMessage(c *Client, pm *PrivateMessage) {
	sender, ok := cs.joinedUser(c)
	if !ok {
		return
	}

	recipient, ok := cs.findRecipient(sender.Room, moderation.Sanitize(pm.To))
	if !ok {
		c.queueMessage(ErrMessage(msgUserNotFound))
		return
	}

	text, ok := cs.screenMessage(c, sender, pm.Message, msgPrivateFiltered)
	if !ok {
		return
	}

	dm := newDirectMessage(sender.Username, recipient.Username, text)
	cs.broadcaster.SendTo(recipient.ConnectionId, ReceivePrivateMessage(dm))
	c.queueMessage(PrivateMessageSent(dm))
	cs.stats.Incr(stats.PrivateMessagesRelayed)
}
