package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/approuter/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// GlobalChangeSubject overrides the global change event subject.
	GlobalChangeSubject string
}

// CommsPublisher publishes route table events to COMMS subjects.
type CommsPublisher struct {
	nc                  *comms.Conn
	globalChangeSubject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	globalSubject := commsutil.SubjectChangeEvent
	if opts != nil && opts.GlobalChangeSubject != "" {
		globalSubject = opts.GlobalChangeSubject
	}
	return &CommsPublisher{nc: nc, globalChangeSubject: globalSubject}
}

// PublishReloaded publishes a RoutesReloadedEvent to the global subject and
// to the per-app subject of every app in the new table.
func (p *CommsPublisher) PublishReloaded(_ context.Context, event *RoutesReloadedEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	apps := make([]string, 0, len(event.ByApp))
	for app := range event.ByApp {
		apps = append(apps, app)
	}
	sort.Strings(apps)

	// Publish to per-app subjects
	for _, app := range apps {
		subject := commsutil.BuildChangeSubject(app)
		if err := p.nc.Publish(subject, data); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
			return err
		}
	}

	// Publish to global subject
	if err := p.nc.Publish(p.globalChangeSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.globalChangeSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published reload event revision=%d total=%d", commsPublisherLogPrefix, event.Revision, event.Total))
	return nil
}

// PublishReloadFailed publishes a RoutesReloadFailedEvent to <global>.failed.
func (p *CommsPublisher) PublishReloadFailed(_ context.Context, event *RoutesReloadFailedEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}
	subject := p.globalChangeSubject + ".failed"
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
		return err
	}
	return nil
}
