package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/morezero/approuter/pkg/route"
	"github.com/morezero/approuter/pkg/semver"
)

const logPrefix = "manifest:loader"

// EnvRoutesFile names the environment variable consulted by Load.
const EnvRoutesFile = "ROUTES_FILE"

// DefaultPaths are tried after explicit paths and ROUTES_FILE.
var DefaultPaths = []string{"config/routes.yaml", "config/routes.json", "routes.yaml"}

// Load loads the first manifest found. Paths are tried in order: explicit
// paths, then ROUTES_FILE, then DefaultPaths. Missing files are skipped but a
// file that exists and fails to parse is an error. With no file found an
// empty manifest is returned.
func Load(paths ...string) (*Manifest, string, error) {
	all := make([]string, 0, len(paths)+len(DefaultPaths)+1)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv(EnvRoutesFile); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, DefaultPaths...)

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, p, fmt.Errorf("%s - failed to read %s: %w", logPrefix, p, err)
		}

		m, err := Parse(data)
		if err != nil {
			return nil, p, fmt.Errorf("%s - %s: %w", logPrefix, p, err)
		}

		slog.Info(fmt.Sprintf("%s - Loaded route manifest from %s (%d apps, %d routes)", logPrefix, p, len(m.Apps), m.RouteCount()))
		return m, p, nil
	}

	slog.Info(fmt.Sprintf("%s - No route manifest found, using an empty one", logPrefix))
	return &Manifest{Name: "empty"}, "", nil
}

// Parse decodes and validates a YAML or JSON manifest. Unknown fields are rejected.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Marshal encodes the manifest as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// Validate checks the manifest for structural errors. Route patterns are
// checked later when the table is built.
func (m *Manifest) Validate() error {
	var errs []string
	seenApps := map[string]bool{}

	for i, app := range m.Apps {
		if app.ID == "" {
			errs = append(errs, fmt.Sprintf("apps[%d]: id is required", i))
			continue
		}
		if seenApps[app.ID] {
			errs = append(errs, fmt.Sprintf("app %q declared twice", app.ID))
		}
		seenApps[app.ID] = true

		for j, r := range app.Routes {
			where := fmt.Sprintf("app %q routes[%d]", app.ID, j)
			if r.Path == "" {
				errs = append(errs, where+": path is required")
			}
			switch route.RenderMode(r.RenderMode) {
			case "", route.RenderSSR, route.RenderStreaming:
			default:
				errs = append(errs, fmt.Sprintf("%s: unknown renderMode %q", where, r.RenderMode))
			}
			if r.Data != nil {
				if err := r.Data.validate(); err != nil {
					errs = append(errs, fmt.Sprintf("%s: %v", where, err))
				}
			}
		}
	}

	seenSvc := map[string]bool{}
	for i, s := range m.Services {
		where := fmt.Sprintf("services[%d]", i)
		if !semver.ValidateServiceName(s.Name) {
			errs = append(errs, fmt.Sprintf("%s: invalid name %q", where, s.Name))
			continue
		}
		key := semver.BuildServiceRef(s.Name, s.Version)
		if seenSvc[key] {
			errs = append(errs, fmt.Sprintf("service %s declared twice", key))
		}
		seenSvc[key] = true
		if s.Version != "" {
			if _, err := semver.NormalizeVersion(s.Version); err != nil {
				errs = append(errs, fmt.Sprintf("service %s: invalid version %q", s.Name, s.Version))
			}
		}
		if s.URL != "" && (s.Subject != "" || s.NatsURL != "") {
			errs = append(errs, fmt.Sprintf("service %s: url cannot be combined with subject or natsUrl", s.Name))
		}
		if len(s.Methods) == 0 {
			errs = append(errs, fmt.Sprintf("service %s: at least one method is required", s.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid manifest: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (d *DataSpec) validate() error {
	set := 0
	if d.Static != nil {
		set++
	}
	if d.Service != "" {
		set++
		if d.Method == "" {
			return fmt.Errorf("data.service %q needs a method", d.Service)
		}
	}
	if d.Handler != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("data must set exactly one of static, service or handler")
	}
	return nil
}

// Merge overlays override onto base. Apps are replaced by ID and services
// by name and version; new ones are appended in override order.
func Merge(base, override *Manifest) *Manifest {
	merged := &Manifest{Name: base.Name, Version: base.Version}
	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Version != "" {
		merged.Version = override.Version
	}

	appIdx := map[string]int{}
	for _, a := range base.Apps {
		appIdx[a.ID] = len(merged.Apps)
		merged.Apps = append(merged.Apps, a)
	}
	for _, a := range override.Apps {
		if i, ok := appIdx[a.ID]; ok {
			merged.Apps[i] = a
			continue
		}
		appIdx[a.ID] = len(merged.Apps)
		merged.Apps = append(merged.Apps, a)
	}

	svcIdx := map[string]int{}
	for _, s := range base.Services {
		svcIdx[semver.BuildServiceRef(s.Name, s.Version)] = len(merged.Services)
		merged.Services = append(merged.Services, s)
	}
	for _, s := range override.Services {
		key := semver.BuildServiceRef(s.Name, s.Version)
		if i, ok := svcIdx[key]; ok {
			merged.Services[i] = s
			continue
		}
		svcIdx[key] = len(merged.Services)
		merged.Services = append(merged.Services, s)
	}
	return merged
}
