package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/ports"
)

const (
	TopicSessionCreated = "keychain.session_created"
	TopicLogout         = "keychain.logout"
	TopicViews          = "keychain.views"
	TopicOpenApproval   = "keychain.open_approval"
)

// SessionEvent is published when a session is created or a user logs out
type SessionEvent struct {
	Address string `json:"address"`
	Origin  string `json:"origin,omitempty"`
}

// OpenApprovalEvent asks the hosting surface to show the approval view
type OpenApprovalEvent struct {
	RequestID string `json:"request_id"`
}

// WatermillPublisher publishes keychain events, views and host notifications
// on a Watermill publisher.
type WatermillPublisher struct {
	publisher message.Publisher
}

var (
	_ ports.EventPublisher  = (*WatermillPublisher)(nil)
	_ ports.ApprovalSurface = (*WatermillPublisher)(nil)
	_ ports.HostHooks       = (*WatermillPublisher)(nil)
)

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishSessionCreated publishes a session created event
func (p *WatermillPublisher) PublishSessionCreated(ctx context.Context, address, origin string) error {
	return p.publish(ctx, TopicSessionCreated, SessionEvent{Address: address, Origin: origin})
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address, origin string) error {
	return p.publish(ctx, TopicLogout, SessionEvent{Address: address, Origin: origin})
}

// Present publishes the view for an approval UI subscribed to TopicViews
func (p *WatermillPublisher) Present(ctx context.Context, view core.View) error {
	return p.publish(ctx, TopicViews, view)
}

// SessionCreated notifies the host that the user is connected
func (p *WatermillPublisher) SessionCreated(ctx context.Context, address string) error {
	return p.publish(ctx, TopicSessionCreated, SessionEvent{Address: address})
}

// OpenApproval asks the host to open the approval surface for requestID
func (p *WatermillPublisher) OpenApproval(ctx context.Context, requestID string) error {
	return p.publish(ctx, TopicOpenApproval, OpenApprovalEvent{RequestID: requestID})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
