package route

// UnknownApp is the bucket for routes without an owning app.
const UnknownApp = "unknown"

// Stats summarizes a matcher list.
type Stats struct {
	Total        int            `json:"total"`
	MeanScore    float64        `json:"meanScore"`
	ByApp        map[string]int `json:"byApp"`
	ByPolicy     map[string]int `json:"byPolicy"`
	ByRenderMode map[string]int `json:"byRenderMode"`
}

// ComputeStats counts matchers by app, policy and render mode.
func ComputeStats(matchers []*Matcher) Stats {
	s := Stats{
		Total:        len(matchers),
		ByApp:        map[string]int{},
		ByPolicy:     map[string]int{},
		ByRenderMode: map[string]int{},
	}
	if len(matchers) == 0 {
		return s
	}

	var sum float64
	for _, m := range matchers {
		sum += m.Score

		app := m.Route.AppID
		if app == "" {
			app = UnknownApp
		}
		s.ByApp[app]++

		for _, p := range m.Route.Attributes.Policies {
			s.ByPolicy[p]++
		}

		mode := m.Route.Attributes.RenderMode
		if mode == "" {
			mode = RenderSSR
		}
		s.ByRenderMode[string(mode)]++
	}
	s.MeanScore = sum / float64(len(matchers))
	return s
}
