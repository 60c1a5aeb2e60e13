package cdphost

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/ctxutil"
	"github.com/xkilldash9x/extbridge/internal/scripts"
)

const (
	worldName         = "extbridge"
	readyPollInterval = 50 * time.Millisecond
)

var jsonNull = json.RawMessage("null")

// Inject evaluates src in an isolated world of the tab's top frame, or of
// every frame when opts.AllFrames is set. Results come back in frame tree
// order (depth first, parent before children).
func (h *Host) Inject(ctx context.Context, tabID schemas.TabID, src schemas.ScriptSource, opts schemas.InjectOptions) ([]json.RawMessage, error) {
	code, err := scripts.Resolve(src)
	if err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(h.browserCtx, chromedp.WithTargetID(target.ID(tabID)))
	defer detach(tabCtx, cancelTab)
	runCtx, cancel := ctxutil.CombineContext(tabCtx, ctx)
	defer cancel()

	var tree *page.FrameTree
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to attach to tab %s: %w", tabID, err)
	}

	frames := flattenFrames(tree)
	if !opts.AllFrames && len(frames) > 1 {
		frames = frames[:1]
	}

	results := make([]json.RawMessage, len(frames))
	g, gctx := errgroup.WithContext(runCtx)
	for i, frame := range frames {
		g.Go(func() error {
			v, err := h.evaluateInFrame(gctx, frame, code, opts.RunAt)
			if err != nil {
				return fmt.Errorf("frame %s (%s): %w", frame.ID, frame.URL, err)
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (h *Host) evaluateInFrame(ctx context.Context, frame *cdp.Frame, code string, runAt schemas.RunAt) (json.RawMessage, error) {
	var out json.RawMessage
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		worldID, err := page.CreateIsolatedWorld(frame.ID).
			WithWorldName(worldName).
			WithGrantUniveralAccess(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to create isolated world: %w", err)
		}
		if err := waitForReadyState(ctx, worldID, runAt); err != nil {
			return err
		}

		obj, exception, err := cdpruntime.Evaluate(code).
			WithContextID(worldID).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exception != nil {
			h.logger.Warn("Injected script threw.",
				zap.String("frame_url", frame.URL),
				zap.String("exception", describeException(exception)))
			out = jsonNull
			return nil
		}
		out = remoteValue(obj)
		return nil
	}))
	return out, err
}

// waitForReadyState polls document.readyState until runAt is satisfied. An
// empty runAt behaves like document_idle.
func waitForReadyState(ctx context.Context, worldID cdpruntime.ExecutionContextID, runAt schemas.RunAt) error {
	if runAt == schemas.RunAtDocumentStart {
		return nil
	}

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		obj, _, err := cdpruntime.Evaluate("document.readyState").
			WithContextID(worldID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to read document.readyState: %w", err)
		}
		var state string
		_ = json.Unmarshal(remoteValue(obj), &state)
		if readyFor(runAt, state) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("document not ready for %s (readyState %q): %w", runAt, state, ctx.Err())
		case <-ticker.C:
		}
	}
}

func readyFor(runAt schemas.RunAt, state string) bool {
	switch runAt {
	case schemas.RunAtDocumentStart:
		return true
	case schemas.RunAtDocumentEnd:
		return state == "interactive" || state == "complete"
	default:
		return state == "complete"
	}
}

// flattenFrames walks the frame tree depth first.
func flattenFrames(tree *page.FrameTree) []*cdp.Frame {
	if tree == nil || tree.Frame == nil {
		return nil
	}
	out := []*cdp.Frame{tree.Frame}
	for _, child := range tree.ChildFrames {
		out = append(out, flattenFrames(child)...)
	}
	return out
}

// remoteValue returns obj's by-value JSON, or null when there is none
// (undefined, functions, symbols).
func remoteValue(obj *cdpruntime.RemoteObject) json.RawMessage {
	if obj == nil || len(obj.Value) == 0 {
		return jsonNull
	}
	return json.RawMessage(obj.Value)
}

func describeException(e *cdpruntime.ExceptionDetails) string {
	if e.Exception != nil && e.Exception.Description != "" {
		return e.Exception.Description
	}
	return e.Text
}

// detach releases the tab context without closing the tab. Cancelling a
// chromedp context that attached to a target closes that target unless its
// TargetID is empty. chromedp reads the id only after the context is done, so
// the write must happen before cancel and after every Run on tabCtx returned.
func detach(tabCtx context.Context, cancel context.CancelFunc) {
	if c := chromedp.FromContext(tabCtx); c != nil && c.Target != nil {
		c.Target.TargetID = ""
	}
	cancel()
}
