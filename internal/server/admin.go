package server

import (
	"fmt"
	"strings"

	"github.com/npezzotti/go-chatrelay/internal/moderation"
	"github.com/npezzotti/go-chatrelay/internal/stats"
)

const (
	cmdKick = "kick"
	cmdBan  = "ban"
	cmdMute = "mute"
)

// handleAdminCommand runs a kick, ban or mute issued by c. Targets are
// resolved by name across all rooms, ignoring case.
func (cs *ChatServer) handleAdminCommand(c *Client, cmd *AdminCommand) {
	admin, ok := cs.registry.Get(c.id)
	if !ok || !admin.IsAdmin {
		c.queueMessage(PermissionDenied())
		return
	}

	command := strings.ToLower(moderation.Sanitize(cmd.Command))
	target := moderation.Sanitize(cmd.Target)
	reason := moderation.Sanitize(cmd.Reason)
	if reason == "" {
		reason = defaultRemovalReason
	}

	switch command {
	case cmdKick, cmdBan, cmdMute:
	default:
		c.queueMessage(AdminResponse(fmt.Sprintf("Unknown command: %s", command)))
		return
	}

	if target == "" {
		c.queueMessage(AdminResponse(msgTargetRequired))
		return
	}

	if strings.EqualFold(target, admin.Username) {
		c.queueMessage(AdminResponse(fmt.Sprintf("You cannot %s yourself", command)))
		return
	}

	switch command {
	case cmdKick:
		cs.kick(c, admin, target, reason)
	case cmdBan:
		cs.ban(c, admin, target, reason)
	case cmdMute:
		// acknowledged only, nothing suppresses a muted user's messages
		cs.log.Printf("admin %s muted %s", admin.Username, target)
		c.queueMessage(AdminResponse(fmt.Sprintf("User %s has been muted", target)))
	}
}

func (cs *ChatServer) kick(c *Client, admin ConnectedUser, target, reason string) {
	matches := cs.registry.Lookup(target)
	if len(matches) == 0 {
		cs.log.Printf("admin %s tried to kick %s, who is not connected", admin.Username, target)
		return
	}

	u := matches[0]
	cs.removeAfterGrace(u.ConnectionId, KickedMessage(reason))
	cs.stats.Incr(stats.Kicks)
	cs.log.Printf("admin %s kicked %s from room %q", admin.Username, u.Username, u.Room)
	c.queueMessage(AdminResponse(fmt.Sprintf("User %s has been kicked", u.Username)))
}

func (cs *ChatServer) ban(c *Client, admin ConnectedUser, target, reason string) {
	cs.registry.Ban(target)
	for _, u := range cs.registry.Lookup(target) {
		cs.removeAfterGrace(u.ConnectionId, BannedMessage(reason))
	}

	cs.stats.Incr(stats.Bans)
	cs.log.Printf("admin %s banned %s", admin.Username, target)
	c.queueMessage(AdminResponse(fmt.Sprintf("User %s has been banned", target)))
}

// removeAfterGrace notifies a connection and closes it once the grace
// delay has passed. The timer is not cancelled if the connection goes
// away first; stopping an already stopped client is a no-op.
func (cs *ChatServer) removeAfterGrace(connId string, notice *ServerMessage) {
	client, ok := cs.broadcaster.Client(connId)
	if !ok {
		return
	}

	client.queueMessage(notice)
	cs.afterFunc(cs.graceDelay, client.stopClient)
}
