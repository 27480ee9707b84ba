package server

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/morezero/approuter/pkg/db"
	"github.com/morezero/approuter/pkg/manifest"
	"github.com/morezero/approuter/pkg/route"
)

const sourceLogPrefix = "server:source"

// Source loads the route manifest the table is built from.
type Source interface {
	Name() string
	Load(ctx context.Context) (*manifest.Manifest, int64, error)
}

// FileSource reads the manifest from disk. Path may be empty to fall back to
// ROUTES_FILE and the default locations.
type FileSource struct {
	Path string
	rev  atomic.Int64
}

// Name implements Source.
func (s *FileSource) Name() string {
	return "file"
}

// Load implements Source. Each successful load is a new revision.
func (s *FileSource) Load(_ context.Context) (*manifest.Manifest, int64, error) {
	m, _, err := manifest.Load(s.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("%s - %w", sourceLogPrefix, err)
	}
	return m, s.rev.Add(1), nil
}

// DBSource reads the manifest from the Postgres route store.
type DBSource struct {
	Repo *db.Repository
}

// Name implements Source.
func (s *DBSource) Name() string {
	return "db"
}

// Load implements Source.
func (s *DBSource) Load(ctx context.Context) (*manifest.Manifest, int64, error) {
	return s.Repo.LoadManifest(ctx)
}

// snapshot is one built table and where it came from.
type snapshot struct {
	table    *route.Table
	manifest *manifest.Manifest
	revision int64
}

// TableHolder holds the active route table. Reads never block; a reload swaps
// the whole table at once.
type TableHolder struct {
	current atomic.Pointer[snapshot]
}

// Table implements dispatcher.TableSource. It returns nil before the first load.
func (h *TableHolder) Table() *route.Table {
	if s := h.current.Load(); s != nil {
		return s.table
	}
	return nil
}

// Revision returns the revision of the active table.
func (h *TableHolder) Revision() int64 {
	if s := h.current.Load(); s != nil {
		return s.revision
	}
	return 0
}

// Loaded reports whether a table has been installed.
func (h *TableHolder) Loaded() bool {
	return h.current.Load() != nil
}

func (h *TableHolder) manifest() *manifest.Manifest {
	if s := h.current.Load(); s != nil {
		return s.manifest
	}
	return nil
}

func (h *TableHolder) store(s *snapshot) {
	h.current.Store(s)
}
