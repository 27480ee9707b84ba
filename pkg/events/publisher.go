package events

import "context"

// EventPublisher is the interface for publishing route table events.
type EventPublisher interface {
	PublishReloaded(ctx context.Context, event *RoutesReloadedEvent) error
	PublishReloadFailed(ctx context.Context, event *RoutesReloadFailedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishReloaded is a no-op.
func (p *NoOpPublisher) PublishReloaded(_ context.Context, _ *RoutesReloadedEvent) error {
	return nil
}

// PublishReloadFailed is a no-op.
func (p *NoOpPublisher) PublishReloadFailed(_ context.Context, _ *RoutesReloadFailedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls callback functions (for testing).
type CallbackPublisher struct {
	onReloaded func(ctx context.Context, event *RoutesReloadedEvent) error
	onFailed   func(ctx context.Context, event *RoutesReloadFailedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher. Either callback may be nil.
func NewCallbackPublisher(
	onReloaded func(ctx context.Context, event *RoutesReloadedEvent) error,
	onFailed func(ctx context.Context, event *RoutesReloadFailedEvent) error,
) *CallbackPublisher {
	return &CallbackPublisher{onReloaded: onReloaded, onFailed: onFailed}
}

// PublishReloaded calls the reload callback.
func (p *CallbackPublisher) PublishReloaded(ctx context.Context, event *RoutesReloadedEvent) error {
	if p.onReloaded == nil {
		return nil
	}
	return p.onReloaded(ctx, event)
}

// PublishReloadFailed calls the failure callback.
func (p *CallbackPublisher) PublishReloadFailed(ctx context.Context, event *RoutesReloadFailedEvent) error {
	if p.onFailed == nil {
		return nil
	}
	return p.onFailed(ctx, event)
}
