// Package events defines route table change events and their publishers.
package events

// RoutesReloadedEvent is emitted after a new route table has been swapped in.
type RoutesReloadedEvent struct {
	Total     int            `json:"total"`
	ByApp     map[string]int `json:"byApp"`
	Source    string         `json:"source"`
	Revision  int64          `json:"revision"`
	Timestamp string         `json:"timestamp"`
}

// RoutesReloadFailedEvent is emitted when a reload was rejected and the
// previous table stayed in effect.
type RoutesReloadFailedEvent struct {
	Source    string `json:"source"`
	Error     string `json:"error"`
	Revision  int64  `json:"revision"`
	Timestamp string `json:"timestamp"`
}
