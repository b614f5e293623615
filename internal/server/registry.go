package server

import (
	"cmp"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/moderation"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

var (
	ErrAlreadyJoined   = errors.New("connection already joined a room")
	ErrNotVerified     = errors.New("session not verified")
	ErrInvalidUsername = errors.New("invalid username")
	ErrRoomRequired    = errors.New("room is required")
	ErrBanned          = errors.New("username is banned")
	ErrUsernameTaken   = errors.New("username already taken in room")
)

// Verifier reports whether a session has passed verification.
type Verifier interface {
	IsVerified(sessionId string) bool
}

type ConnectedUser struct {
	ConnectionId string
	Username     string
	Room         string
	IsAdmin      bool
	JoinedAt     time.Time
	SessionId    string
	seq          uint64
}

func (u ConnectedUser) View() types.User {
	return types.User{
		ConnectionId: u.ConnectionId,
		Username:     u.Username,
		Room:         u.Room,
		IsAdmin:      u.IsAdmin,
		JoinedAt:     u.JoinedAt,
	}
}

// Registry is the authoritative set of joined users. At most one user
// holds a given case-insensitive username within a room. The ban list
// only ever grows.
type Registry struct {
	mu       sync.RWMutex
	filter   *moderation.Filter
	verifier Verifier
	isAdmin  func(username string) bool
	users    map[string]*ConnectedUser
	names    map[string]string
	bans     map[string]struct{}
	seq      uint64
	now      func() time.Time
}

func NewRegistry(filter *moderation.Filter, verifier Verifier, isAdmin func(string) bool) *Registry {
	return &Registry{
		filter:   filter,
		verifier: verifier,
		isAdmin:  isAdmin,
		users:    make(map[string]*ConnectedUser),
		names:    make(map[string]string),
		bans:     make(map[string]struct{}),
		now:      time.Now,
	}
}

func nameKey(room, username string) string {
	return room + "\x00" + strings.ToLower(username)
}

func (r *Registry) Register(connId, username, room, sessionId string) (ConnectedUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[connId]; ok {
		return ConnectedUser{}, ErrAlreadyJoined
	}
	if !r.verifier.IsVerified(sessionId) {
		return ConnectedUser{}, ErrNotVerified
	}
	if !r.filter.ValidateUsername(username) {
		return ConnectedUser{}, ErrInvalidUsername
	}
	if room == "" {
		return ConnectedUser{}, ErrRoomRequired
	}
	if _, banned := r.bans[strings.ToLower(username)]; banned {
		return ConnectedUser{}, ErrBanned
	}

	key := nameKey(room, username)
	if _, taken := r.names[key]; taken {
		return ConnectedUser{}, ErrUsernameTaken
	}

	r.seq++
	u := &ConnectedUser{
		ConnectionId: connId,
		Username:     username,
		Room:         room,
		IsAdmin:      r.isAdmin(username),
		JoinedAt:     r.now().UTC(),
		SessionId:    sessionId,
		seq:          r.seq,
	}

	r.users[connId] = u
	r.names[key] = connId
	return *u, nil
}

// Unregister removes the user joined on connId. It reports false when
// there was nobody to remove.
func (r *Registry) Unregister(connId string) (ConnectedUser, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[connId]
	if !ok {
		return ConnectedUser{}, false
	}

	delete(r.users, connId)
	delete(r.names, nameKey(u.Room, u.Username))
	return *u, true
}

func (r *Registry) Get(connId string) (ConnectedUser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[connId]
	if !ok {
		return ConnectedUser{}, false
	}
	return *u, true
}

func (r *Registry) FindByUsername(room, username string) (ConnectedUser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connId, ok := r.names[nameKey(room, username)]
	if !ok {
		return ConnectedUser{}, false
	}
	return *r.users[connId], true
}

// Lookup returns every joined user named username in any room, oldest
// join first.
func (r *Registry) Lookup(username string) []ConnectedUser {
	return r.collect(func(u *ConnectedUser) bool {
		return strings.EqualFold(u.Username, username)
	})
}

// MembersOf returns the users joined to room in join order.
func (r *Registry) MembersOf(room string) []ConnectedUser {
	return r.collect(func(u *ConnectedUser) bool {
		return u.Room == room
	})
}

func (r *Registry) collect(match func(u *ConnectedUser) bool) []ConnectedUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ConnectedUser
	for _, u := range r.users {
		if match(u) {
			out = append(out, *u)
		}
	}

	slices.SortFunc(out, func(a, b ConnectedUser) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

func (r *Registry) Ban(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bans[strings.ToLower(username)] = struct{}{}
}

func (r *Registry) IsBanned(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bans[strings.ToLower(username)]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
