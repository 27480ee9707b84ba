package db

import "time"

// AppRow represents a row in the route_apps table.
type AppRow struct {
	AppID    string    `json:"app_id"`
	Revision int       `json:"revision"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// RouteRow represents a row in the routes table. Data holds the JSON-encoded
// manifest data spec, or nil for routes without data.
type RouteRow struct {
	ID         int64    `json:"id"`
	AppID      string   `json:"app_id"`
	Position   int      `json:"position"`
	Path       string   `json:"path"`
	RenderMode string   `json:"render_mode"`
	Policies   []string `json:"policies"`
	Data       []byte   `json:"data,omitempty"`
}

// ServiceRow represents a row in the route_services table.
type ServiceRow struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description *string   `json:"description,omitempty"`
	Subject     *string   `json:"subject,omitempty"`
	NatsURL     *string   `json:"nats_url,omitempty"`
	URL         *string   `json:"url,omitempty"`
	Methods     []string  `json:"methods"`
	Modified    time.Time `json:"modified"`
}
