package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/morezero/approuter/pkg/apperr"
	"github.com/morezero/approuter/pkg/events"
	"github.com/morezero/approuter/pkg/route"
)

const reloadLogPrefix = "server:reload"

// CodeReloadFailed marks a reload rejected because of the manifest content.
const CodeReloadFailed = "RELOAD_FAILED"

// Reloader rebuilds the route table from its source and swaps it into the
// holder. Reloads are serialized; a failed reload leaves the active table in place.
type Reloader struct {
	mu        sync.Mutex
	source    Source
	holder    *TableHolder
	handlers  map[string]route.DataHandler
	publisher events.EventPublisher
}

// NewReloaderParams holds parameters for NewReloader.
type NewReloaderParams struct {
	Source Source
	Holder *TableHolder
	// Handlers are the code-defined data handlers manifest routes may name.
	Handlers  map[string]route.DataHandler
	Publisher events.EventPublisher
}

// NewReloader creates a Reloader.
func NewReloader(params NewReloaderParams) *Reloader {
	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	return &Reloader{
		source:    params.Source,
		holder:    params.Holder,
		handlers:  params.Handlers,
		publisher: pub,
	}
}

// Reload loads the manifest, builds a new table and installs it. Errors in
// the manifest content come back as validation failures; source failures are
// returned unclassified.
func (r *Reloader) Reload(ctx context.Context) (*events.RoutesReloadedEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	snap, err := r.build(ctx)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - Reload from %s failed, keeping revision %d: %v", reloadLogPrefix, r.source.Name(), r.holder.Revision(), err))
		failed := &events.RoutesReloadFailedEvent{
			Source:    r.source.Name(),
			Error:     err.Error(),
			Revision:  r.holder.Revision(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if perr := r.publisher.PublishReloadFailed(ctx, failed); perr != nil {
			slog.Warn(fmt.Sprintf("%s - failed to publish reload failure: %v", reloadLogPrefix, perr))
		}
		return nil, err
	}

	if prev := r.holder.manifest(); prev != nil && !reflect.DeepEqual(prev.Services, snap.manifest.Services) {
		slog.Warn(fmt.Sprintf("%s - Service declarations changed; they take effect on restart", reloadLogPrefix))
	}
	r.holder.store(snap)

	stats := snap.table.Stats()
	event := &events.RoutesReloadedEvent{
		Total:     stats.Total,
		ByApp:     stats.ByApp,
		Source:    r.source.Name(),
		Revision:  snap.revision,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	slog.Info(fmt.Sprintf("%s - Installed %d routes from %s (revision %d) in %s",
		reloadLogPrefix, stats.Total, r.source.Name(), snap.revision, time.Since(started).Round(time.Millisecond)))

	if err := r.publisher.PublishReloaded(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish reload event: %v", reloadLogPrefix, err))
	}
	return event, nil
}

func (r *Reloader) build(ctx context.Context) (*snapshot, error) {
	m, rev, err := r.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	routes, err := m.Routes(r.handlers)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, err.Error()).WithCode(CodeReloadFailed)
	}
	table, err := route.NewTable(routes)
	if err != nil {
		var pe *route.ParseError
		if errors.As(err, &pe) {
			return nil, apperr.Wrap(apperr.KindValidation, err, pe.Error()).WithCode(CodeReloadFailed)
		}
		return nil, err
	}
	return &snapshot{table: table, manifest: m, revision: rev}, nil
}
