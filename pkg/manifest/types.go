// Package manifest loads the declarative route and service manifest that
// apps contribute to the router.
package manifest

// Manifest is the root of a route manifest file.
type Manifest struct {
	Name     string        `yaml:"name" json:"name"`
	Version  string        `yaml:"version" json:"version"`
	Apps     []App         `yaml:"apps" json:"apps"`
	Services []ServiceSpec `yaml:"services,omitempty" json:"services,omitempty"`
}

// App groups the routes contributed by one owner.
type App struct {
	ID     string      `yaml:"id" json:"id"`
	Routes []RouteSpec `yaml:"routes" json:"routes"`
}

// RouteSpec declares one route.
type RouteSpec struct {
	Path       string    `yaml:"path" json:"path"`
	RenderMode string    `yaml:"renderMode,omitempty" json:"renderMode,omitempty"`
	Policies   []string  `yaml:"policies,omitempty" json:"policies,omitempty"`
	Data       *DataSpec `yaml:"data,omitempty" json:"data,omitempty"`
}

// DataSpec declares how a route loads its data. Exactly one of Static,
// Service or Handler is set.
type DataSpec struct {
	// Static data returned as-is
	Static map[string]any `yaml:"static,omitempty" json:"static,omitempty"`
	// Service call; path params are passed as args, Args win on conflict
	Service string         `yaml:"service,omitempty" json:"service,omitempty"`
	Method  string         `yaml:"method,omitempty" json:"method,omitempty"`
	Args    map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	// Handler names a data handler registered in code
	Handler string `yaml:"handler,omitempty" json:"handler,omitempty"`
}

// ServiceSpec declares a remote service reachable over COMMS or HTTP.
type ServiceSpec struct {
	Name        string   `yaml:"name" json:"name"`
	Version     string   `yaml:"version,omitempty" json:"version,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Subject     string   `yaml:"subject,omitempty" json:"subject,omitempty"`
	NatsURL     string   `yaml:"natsUrl,omitempty" json:"natsUrl,omitempty"`
	URL         string   `yaml:"url,omitempty" json:"url,omitempty"`
	Methods     []string `yaml:"methods" json:"methods"`
}

// RouteCount returns the number of routes across all apps.
func (m *Manifest) RouteCount() int {
	n := 0
	for _, a := range m.Apps {
		n += len(a.Routes)
	}
	return n
}
