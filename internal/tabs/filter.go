package tabs

import (
	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/matchpattern"
)

// Filter returns the tabs in all that satisfy q, preserving order. Hosts that
// can only enumerate every tab use it to implement TabRegistry.Query.
func Filter(all []schemas.Tab, q schemas.TabQuery) ([]schemas.Tab, error) {
	patterns := make([]*matchpattern.Pattern, 0, len(q.URLPatterns))
	for _, raw := range q.URLPatterns {
		p, err := matchpattern.Parse(raw)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}

	var out []schemas.Tab
	for _, tab := range all {
		if q.WindowType != "" && tab.WindowType != q.WindowType {
			continue
		}
		if q.URL != "" && tab.URL != q.URL {
			continue
		}
		if len(patterns) > 0 && !anyMatch(patterns, tab.URL) {
			continue
		}
		out = append(out, tab)
	}
	return out, nil
}

func anyMatch(patterns []*matchpattern.Pattern, url string) bool {
	for _, p := range patterns {
		if p.Match(url) {
			return true
		}
	}
	return false
}
