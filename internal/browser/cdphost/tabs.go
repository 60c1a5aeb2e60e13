package cdphost

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/tabs"
)

// ErrNoPages is returned by Current when the browser has no page targets.
var ErrNoPages = errors.New("browser has no open pages")

// toTabs keeps page targets and converts them, in target order. A page with
// an opener was opened by window.open and is reported as a popup.
func toTabs(infos []*target.Info) []schemas.Tab {
	var out []schemas.Tab
	for _, info := range infos {
		if info == nil || info.Type != "page" {
			continue
		}
		windowType := schemas.WindowNormal
		if info.OpenerID != "" {
			windowType = schemas.WindowPopup
		}
		out = append(out, schemas.Tab{
			ID:         schemas.TabID(info.TargetID),
			URL:        info.URL,
			Title:      info.Title,
			WindowType: windowType,
		})
	}
	return out
}

func (h *Host) pages(ctx context.Context) ([]schemas.Tab, error) {
	var infos []*target.Info
	err := h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		infos, err = chromedp.Targets(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	return toTabs(infos), nil
}

// Query lists page targets matching q.
func (h *Host) Query(ctx context.Context, q schemas.TabQuery) ([]schemas.Tab, error) {
	all, err := h.pages(ctx)
	if err != nil {
		return nil, err
	}
	return tabs.Filter(all, q)
}

// Current returns the first page target, which is the most recently focused
// one in Chrome's target ordering.
func (h *Host) Current(ctx context.Context) (schemas.Tab, error) {
	all, err := h.pages(ctx)
	if err != nil {
		return schemas.Tab{}, err
	}
	if len(all) == 0 {
		return schemas.Tab{}, ErrNoPages
	}
	current := all[0]
	current.Active = true
	return current, nil
}

// Create opens url in a new tab, in the background unless active is set.
func (h *Host) Create(ctx context.Context, url string, active bool) (schemas.Tab, error) {
	var id target.ID
	err := h.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		ctx = cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Browser)
		var err error
		id, err = target.CreateTarget(url).WithBackground(!active).Do(ctx)
		if err != nil {
			return err
		}
		if active {
			return target.ActivateTarget(id).Do(ctx)
		}
		return nil
	}))
	if err != nil {
		return schemas.Tab{}, fmt.Errorf("failed to create target: %w", err)
	}

	h.logger.Debug("Target created.", zap.String("target_id", string(id)), zap.Bool("active", active))
	return schemas.Tab{ID: schemas.TabID(id), URL: url, WindowType: schemas.WindowNormal, Active: active}, nil
}
