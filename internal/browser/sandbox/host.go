// Package sandbox is an in-memory browser. Tabs hold parsed HTML documents and
// injected code runs in goja, so drivers and tests can exercise the bridge
// without a Chrome binary.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/permission"
	"github.com/xkilldash9x/extbridge/internal/tabs"
)

const blankDocument = "<html><head></head><body></body></html>"

var (
	// ErrNoSuchTab is returned for tab ids the sandbox never issued or has closed.
	ErrNoSuchTab = errors.New("no such tab")
	// ErrNoCurrentTab is returned by Current when no tab is open.
	ErrNoCurrentTab = errors.New("no tab is open")
)

// FrameSpec describes one frame of a tab opened with OpenTab. The first frame
// is the top-level document.
type FrameSpec struct {
	URL  string
	HTML string
}

type frame struct {
	mu     sync.Mutex
	url    string
	root   *html.Node
	clicks map[*html.Node]int
}

type tab struct {
	id         schemas.TabID
	windowType schemas.WindowType
	frames     []*frame
}

func (t *tab) snapshot(active bool) schemas.Tab {
	top := t.frames[0]
	top.mu.Lock()
	defer top.mu.Unlock()
	return schemas.Tab{
		ID:         t.id,
		URL:        top.url,
		Title:      documentTitle(top.root),
		WindowType: t.windowType,
		Active:     active,
	}
}

// Host implements schemas.BrowserHost entirely in memory.
type Host struct {
	*permission.MemoryStore

	logger *zap.Logger

	mu     sync.RWMutex
	tabs   []*tab
	active schemas.TabID
	nextID int
}

var _ schemas.BrowserHost = (*Host)(nil)

// New returns an empty sandbox browser.
func New(logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		MemoryStore: permission.NewMemoryStore(),
		logger:      logger.Named("sandbox"),
	}
}

// OpenTab adds a tab of the given window type. Without frames the tab holds
// a blank document at about:blank.
func (h *Host) OpenTab(windowType schemas.WindowType, frames ...FrameSpec) (schemas.TabID, error) {
	if len(frames) == 0 {
		frames = []FrameSpec{{URL: "about:blank", HTML: blankDocument}}
	}
	if windowType == "" {
		windowType = schemas.WindowNormal
	}

	t := &tab{windowType: windowType}
	for i, spec := range frames {
		root, err := htmlquery.Parse(strings.NewReader(spec.HTML))
		if err != nil {
			return "", fmt.Errorf("failed to parse frame %d (%s): %w", i, spec.URL, err)
		}
		t.frames = append(t.frames, &frame{url: spec.URL, root: root, clicks: make(map[*html.Node]int)})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	t.id = schemas.TabID(strconv.Itoa(h.nextID))
	h.tabs = append(h.tabs, t)
	h.logger.Debug("Tab opened.",
		zap.String("tab_id", string(t.id)),
		zap.String("url", frames[0].URL),
		zap.String("window_type", string(windowType)),
		zap.Int("frames", len(t.frames)))
	return t.id, nil
}

// Activate makes id the current tab.
func (h *Host) Activate(id schemas.TabID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.find(id) == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchTab, id)
	}
	h.active = id
	return nil
}

// CloseTab removes a tab.
func (h *Host) CloseTab(id schemas.TabID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, t := range h.tabs {
		if t.id == id {
			h.tabs = append(h.tabs[:i], h.tabs[i+1:]...)
			if h.active == id {
				h.active = ""
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNoSuchTab, id)
}

// Clicks reports how many times the element with elementID in the given frame
// has had click() called on it.
func (h *Host) Clicks(id schemas.TabID, frameIndex int, elementID string) (int, error) {
	h.mu.RLock()
	t := h.find(id)
	h.mu.RUnlock()
	if t == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoSuchTab, id)
	}
	if frameIndex < 0 || frameIndex >= len(t.frames) {
		return 0, fmt.Errorf("tab %s has no frame %d", id, frameIndex)
	}

	f := t.frames[frameIndex]
	f.mu.Lock()
	defer f.mu.Unlock()
	node := htmlquery.FindOne(f.root, idXPath(elementID))
	if node == nil {
		return 0, fmt.Errorf("frame %d of tab %s has no element #%s", frameIndex, id, elementID)
	}
	return f.clicks[node], nil
}

// -- schemas.TabRegistry --

// Query returns a snapshot of the tabs matching q, in the order they were opened.
func (h *Host) Query(_ context.Context, q schemas.TabQuery) ([]schemas.Tab, error) {
	h.mu.RLock()
	all := make([]schemas.Tab, 0, len(h.tabs))
	for _, t := range h.tabs {
		all = append(all, t.snapshot(t.id == h.active))
	}
	h.mu.RUnlock()
	return tabs.Filter(all, q)
}

// Create opens a normal tab holding a blank document at url.
func (h *Host) Create(ctx context.Context, url string, active bool) (schemas.Tab, error) {
	if err := ctx.Err(); err != nil {
		return schemas.Tab{}, err
	}
	id, err := h.OpenTab(schemas.WindowNormal, FrameSpec{URL: url, HTML: blankDocument})
	if err != nil {
		return schemas.Tab{}, err
	}
	if active {
		if err := h.Activate(id); err != nil {
			return schemas.Tab{}, err
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.find(id).snapshot(active), nil
}

// Current returns the active tab, or the first open tab when none was activated.
func (h *Host) Current(_ context.Context) (schemas.Tab, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if t := h.find(h.active); t != nil {
		return t.snapshot(true), nil
	}
	if len(h.tabs) > 0 {
		return h.tabs[0].snapshot(false), nil
	}
	return schemas.Tab{}, ErrNoCurrentTab
}

// Close discards every tab. Permission rules are kept.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tabs = nil
	h.active = ""
	return nil
}

// find must be called with h.mu held.
func (h *Host) find(id schemas.TabID) *tab {
	if id == "" {
		return nil
	}
	for _, t := range h.tabs {
		if t.id == id {
			return t
		}
	}
	return nil
}

func documentTitle(root *html.Node) string {
	node := htmlquery.FindOne(root, "//title")
	if node == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.InnerText(node))
}
