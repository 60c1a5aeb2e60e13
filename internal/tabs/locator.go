// Package tabs resolves a query to at most one browser tab.
package tabs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/extbridge/api/schemas"
)

// ErrAmbiguousMatch is matched by AmbiguousMatchError.
var ErrAmbiguousMatch = errors.New("ambiguous tab match")

// AmbiguousMatchError reports that a query matched more than one tab.
type AmbiguousMatchError struct {
	Query   schemas.TabQuery
	Matches []schemas.Tab
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("%d tabs match %s; close the extra windows and try again", len(e.Matches), describe(e.Query))
}

// Is lets errors.Is(err, ErrAmbiguousMatch) succeed.
func (e *AmbiguousMatchError) Is(target error) bool {
	return target == ErrAmbiguousMatch
}

// Locator enforces the 0-or-1 cardinality rule on top of a TabRegistry.
type Locator struct {
	registry schemas.TabRegistry
	logger   *zap.Logger
}

// NewLocator creates a Locator.
func NewLocator(registry schemas.TabRegistry, logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{registry: registry, logger: logger.Named("tabs")}
}

// Locate returns the single tab matching q. It returns (nil, nil) when nothing
// matches and an *AmbiguousMatchError when more than one tab does; it never
// picks one of several candidates.
func (l *Locator) Locate(ctx context.Context, q schemas.TabQuery) (*schemas.Tab, error) {
	matches, err := l.registry.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query tabs (%s): %w", describe(q), err)
	}

	switch len(matches) {
	case 0:
		l.logger.Debug("No tab matched.", zap.String("query", describe(q)))
		return nil, nil
	case 1:
		tab := matches[0]
		l.logger.Debug("Tab located.", zap.String("query", describe(q)), zap.String("tab_id", string(tab.ID)), zap.String("url", tab.URL))
		return &tab, nil
	default:
		l.logger.Warn("Query matched more than one tab.", zap.String("query", describe(q)), zap.Int("matches", len(matches)))
		return nil, &AmbiguousMatchError{Query: q, Matches: matches}
	}
}

// PopupQuery selects popup windows whose URL matches any of patterns.
func PopupQuery(patterns []string) schemas.TabQuery {
	return schemas.TabQuery{WindowType: schemas.WindowPopup, URLPatterns: patterns}
}

// ParentTabQuery selects tabs whose URL is exactly url.
func ParentTabQuery(url string) schemas.TabQuery {
	return schemas.TabQuery{URL: url}
}

func describe(q schemas.TabQuery) string {
	switch {
	case q.URL != "" && q.WindowType != "":
		return fmt.Sprintf("%s window with url %s", q.WindowType, q.URL)
	case q.URL != "":
		return "url " + q.URL
	case q.WindowType != "" && len(q.URLPatterns) > 0:
		return fmt.Sprintf("%s window matching %v", q.WindowType, q.URLPatterns)
	case q.WindowType != "":
		return string(q.WindowType) + " window"
	case len(q.URLPatterns) > 0:
		return fmt.Sprintf("url patterns %v", q.URLPatterns)
	default:
		return "any tab"
	}
}
