package delivery

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/internal/mirror"
	"github.com/parlorhq/parlor/pkg/log"
)

// LivePusher pushes payloads at open websocket connections.
type LivePusher interface {
	SendToUser(ctx context.Context, username string, payload []byte) bool
	Broadcast(ctx context.Context, payload []byte, excludeUsername string) int
}

// WebhookSender delivers payloads to user webhook URLs.
type WebhookSender interface {
	Deliver(ctx context.Context, user *domain.User, payload []byte) bool
	Broadcast(ctx context.Context, users []*domain.User, payload []byte, excludeUsername string)
}

// ChatUserSource lists the users eligible to receive room traffic.
type ChatUserSource interface {
	ListChatUsers(ctx context.Context) ([]*domain.User, error)
}

// Router fans a persisted message out across live push, webhooks, and
// the mirror bus. The channels run independently; a failure on one is
// logged and never touches the others, and nothing here can undo the
// already-committed message row.
//
// Webhook delivery is always attempted alongside live push rather than
// only as a fallback, so a user with both an open socket and a webhook
// gets the message on both.
type Router struct {
	live     LivePusher
	webhooks WebhookSender
	mirror   mirror.Publisher
	users    ChatUserSource
}

// NewRouter wires the router's delivery channels.
func NewRouter(live LivePusher, webhooks WebhookSender, mirrorPub mirror.Publisher, users ChatUserSource) *Router {
	return &Router{
		live:     live,
		webhooks: webhooks,
		mirror:   mirrorPub,
		users:    users,
	}
}

// RouteRoom delivers a room message to everyone but the sender: live
// push to every online user, webhooks to every chat user with a URL,
// one publish on the shared mirror channel.
func (r *Router) RouteRoom(ctx context.Context, response *domain.MessageResponse) {
	l := log.L()
	payload, err := json.Marshal(response)
	if err != nil {
		l.Error().Err(err).Str(log.FieldMessageID, response.ID).Msg("room fanout: marshal failed")
		return
	}
	sender := response.FromUsername

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		delivered := r.live.Broadcast(ctx, payload, sender)
		l.Debug().
			Str(log.FieldMessageID, response.ID).
			Int("connections", delivered).
			Msg("room message broadcast")
	}()

	go func() {
		defer wg.Done()
		users, err := r.users.ListChatUsers(ctx)
		if err != nil {
			l.Error().Err(err).Str(log.FieldMessageID, response.ID).Msg("room fanout: listing webhook targets failed")
			return
		}
		r.webhooks.Broadcast(ctx, users, payload, sender)
	}()

	go func() {
		defer wg.Done()
		r.publish(ctx, mirror.ChannelRoom, response.ID, payload)
	}()

	wg.Wait()
}

// RouteDirect delivers a direct message to the recipient: live push to
// all their connections, webhook if they registered one, one publish on
// their private mirror channel.
func (r *Router) RouteDirect(ctx context.Context, response *domain.MessageResponse, recipient *domain.User) {
	l := log.L()
	payload, err := json.Marshal(response)
	if err != nil {
		l.Error().Err(err).Str(log.FieldMessageID, response.ID).Msg("direct fanout: marshal failed")
		return
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		pushed := r.live.SendToUser(ctx, recipient.Username, payload)
		l.Debug().
			Str(log.FieldMessageID, response.ID).
			Str(log.FieldUsername, recipient.Username).
			Bool("pushed", pushed).
			Msg("direct message push")
	}()

	go func() {
		defer wg.Done()
		r.webhooks.Deliver(ctx, recipient, payload)
	}()

	go func() {
		defer wg.Done()
		r.publish(ctx, mirror.UserChannel(recipient.Username), response.ID, payload)
	}()

	wg.Wait()
}

func (r *Router) publish(ctx context.Context, channel, messageID string, payload []byte) {
	if !r.mirror.Enabled() {
		return
	}

	l := log.L()
	event, err := mirror.NewEvent(mirror.EventMessage, channel, json.RawMessage(payload))
	if err != nil {
		l.Error().Err(err).Str(log.FieldMessageID, messageID).Msg("mirror event build failed")
		return
	}
	if err := r.mirror.Publish(ctx, channel, event); err != nil {
		l.Error().
			Err(err).
			Str(log.FieldMessageID, messageID).
			Str(log.FieldChannel, channel).
			Msg("mirror publish failed")
	}
}
