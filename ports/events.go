package ports

import "context"

// EventPublisher publishes keychain events to notify other instances
type EventPublisher interface {
	PublishSessionCreated(ctx context.Context, address, origin string) error
	PublishLogout(ctx context.Context, address, origin string) error
}
