package server

import (
	"fmt"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is an inbound frame. Exactly one event field is expected
// to be set.
type ClientMessage struct {
	BaseMessage
	Join           *Join           `json:"join,omitempty"`
	SendMessage    *SendMessage    `json:"send_message,omitempty"`
	Typing         *Typing         `json:"typing,omitempty"`
	PrivateMessage *PrivateMessage `json:"private_message,omitempty"`
	AdminCommand   *AdminCommand   `json:"admin_command,omitempty"`
	client         *Client
}

type Join struct {
	Username  string `json:"username"`
	Room      string `json:"room"`
	SessionId string `json:"session_id"`
}

type SendMessage struct {
	Message string `json:"message"`
}

type Typing struct {
	IsTyping bool `json:"is_typing"`
}

type PrivateMessage struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type AdminCommand struct {
	Command string `json:"command"`
	Target  string `json:"target"`
	Reason  string `json:"reason,omitempty"`
}

// ServerMessage is an outbound frame carrying a single event.
type ServerMessage struct {
	BaseMessage
	VerificationRequired  *Notice          `json:"verification_required,omitempty"`
	JoinError             *Notice          `json:"join_error,omitempty"`
	RoomUsers             *types.RoomUsers `json:"room_users,omitempty"`
	UserJoined            *Presence        `json:"user_joined,omitempty"`
	UserLeft              *Presence        `json:"user_left,omitempty"`
	ReceiveMessage        *ChatMessage     `json:"receive_message,omitempty"`
	ReceivePrivateMessage *DirectMessage   `json:"receive_private_message,omitempty"`
	PrivateMessageSent    *DirectMessage   `json:"private_message_sent,omitempty"`
	UserTyping            *UserTyping      `json:"user_typing,omitempty"`
	RateLimitWarning      *Notice          `json:"rate_limit_warning,omitempty"`
	ContentWarning        *ContentWarning  `json:"content_warning,omitempty"`
	MessageError          *Notice          `json:"message_error,omitempty"`
	AdminResponse         *Notice          `json:"admin_response,omitempty"`
	PermissionDenied      *Notice          `json:"permission_denied,omitempty"`
	Kicked                *Removal         `json:"kicked,omitempty"`
	Banned                *Removal         `json:"banned,omitempty"`
	SystemMessage         *SystemMessage   `json:"system_message,omitempty"`
}

type Notice struct {
	Message string `json:"message"`
}

type Presence struct {
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatMessage struct {
	Username     string    `json:"username"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	ConnectionId string    `json:"connection_id"`
	IsAdmin      bool      `json:"is_admin"`
}

type DirectMessage struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type UserTyping struct {
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type ContentWarning struct {
	Message  string `json:"message"`
	Original string `json:"original,omitempty"`
	Filtered string `json:"filtered,omitempty"`
}

type Removal struct {
	Reason string `json:"reason"`
}

type SystemMessage struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

const (
	msgVerificationRequired = "Please complete verification before joining"
	msgInvalidUsername      = "Invalid username format"
	msgBanned               = "You are banned from this chat"
	msgUsernameTaken        = "Username already taken in this room"
	msgAlreadyJoined        = "Already joined a room"
	msgRoomRequired         = "Room is required"
	msgRateLimited          = "You are sending messages too quickly. Please slow down."
	msgContentFiltered      = "Your message contained inappropriate content and has been filtered."
	msgPrivateFiltered      = "Your private message contained inappropriate content and has been filtered."
	msgUserNotFound         = "User not found"
	msgPermissionDenied     = "You do not have admin privileges"
	msgTargetRequired       = "A target username is required"
	defaultRemovalReason    = "No reason provided"
)

func newServerMessage() *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
	}
}

func VerificationRequired() *ServerMessage {
	msg := newServerMessage()
	msg.VerificationRequired = &Notice{Message: msgVerificationRequired}
	return msg
}

func ErrJoin(message string) *ServerMessage {
	msg := newServerMessage()
	msg.JoinError = &Notice{Message: message}
	return msg
}

func RoomUsers(room string, users []types.User) *ServerMessage {
	msg := newServerMessage()
	msg.RoomUsers = &types.RoomUsers{Room: room, Users: users}
	return msg
}

func UserJoined(username string) *ServerMessage {
	msg := newServerMessage()
	msg.UserJoined = &Presence{
		Username:  username,
		Message:   fmt.Sprintf("%s joined the chat", username),
		Timestamp: msg.Timestamp,
	}
	return msg
}

func UserLeft(username string) *ServerMessage {
	msg := newServerMessage()
	msg.UserLeft = &Presence{
		Username:  username,
		Message:   fmt.Sprintf("%s left the chat", username),
		Timestamp: msg.Timestamp,
	}
	return msg
}

func Welcome(username string) *ServerMessage {
	msg := newServerMessage()
	msg.SystemMessage = &SystemMessage{
		Message: fmt.Sprintf("Welcome %s! Please follow our community guidelines: "+
			"Be respectful, no spam, no inappropriate content.", username),
		Type: "welcome",
	}
	return msg
}

func ReceiveMessage(user ConnectedUser, text string) *ServerMessage {
	msg := newServerMessage()
	msg.ReceiveMessage = &ChatMessage{
		Username:     user.Username,
		Message:      text,
		Timestamp:    msg.Timestamp,
		ConnectionId: user.ConnectionId,
		IsAdmin:      user.IsAdmin,
	}
	return msg
}

func newDirectMessage(from, to, text string) *DirectMessage {
	return &DirectMessage{
		From:      from,
		To:        to,
		Message:   text,
		Timestamp: Now(),
	}
}

func ReceivePrivateMessage(dm *DirectMessage) *ServerMessage {
	msg := newServerMessage()
	msg.ReceivePrivateMessage = dm
	return msg
}

func PrivateMessageSent(dm *DirectMessage) *ServerMessage {
	msg := newServerMessage()
	msg.PrivateMessageSent = dm
	return msg
}

func UserTypingMessage(username string, isTyping bool) *ServerMessage {
	msg := newServerMessage()
	msg.UserTyping = &UserTyping{Username: username, IsTyping: isTyping}
	return msg
}

func RateLimitWarning() *ServerMessage {
	msg := newServerMessage()
	msg.RateLimitWarning = &Notice{Message: msgRateLimited}
	return msg
}

func ContentWarningMessage(notice, original, filtered string) *ServerMessage {
	msg := newServerMessage()
	msg.ContentWarning = &ContentWarning{
		Message:  notice,
		Original: original,
		Filtered: filtered,
	}
	return msg
}

func ErrMessage(message string) *ServerMessage {
	msg := newServerMessage()
	msg.MessageError = &Notice{Message: message}
	return msg
}

func AdminResponse(message string) *ServerMessage {
	msg := newServerMessage()
	msg.AdminResponse = &Notice{Message: message}
	return msg
}

func PermissionDenied() *ServerMessage {
	msg := newServerMessage()
	msg.PermissionDenied = &Notice{Message: msgPermissionDenied}
	return msg
}

func KickedMessage(reason string) *ServerMessage {
	msg := newServerMessage()
	msg.Kicked = &Removal{Reason: reason}
	return msg
}

func BannedMessage(reason string) *ServerMessage {
	msg := newServerMessage()
	msg.Banned = &Removal{Reason: reason}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
