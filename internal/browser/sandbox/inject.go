package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/extbridge/api/schemas"
	"github.com/xkilldash9x/extbridge/internal/scripts"
)

var jsonNull = json.RawMessage("null")

// Inject runs src in the tab's top frame, or in every frame when
// opts.AllFrames is set, and returns one result per frame in frame order.
// Documents are always fully loaded, so opts.RunAt has no effect.
func (h *Host) Inject(ctx context.Context, tabID schemas.TabID, src schemas.ScriptSource, opts schemas.InjectOptions) ([]json.RawMessage, error) {
	code, err := scripts.Resolve(src)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	t := h.find(tabID)
	h.mu.RUnlock()
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTab, tabID)
	}

	frames := t.frames
	if !opts.AllFrames {
		frames = frames[:1]
	}

	results := make([]json.RawMessage, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range frames {
		g.Go(func() error {
			v, err := h.evaluate(gctx, f, code)
			if err != nil {
				return fmt.Errorf("frame %d (%s): %w", i, f.url, err)
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	h.logger.Debug("Script injected.",
		zap.String("tab_id", string(tabID)),
		zap.Stringer("source", src),
		zap.Int("frames", len(results)))
	return results, nil
}

// evaluate runs code in a fresh VM bound to f. Script failures yield null;
// only cancellation is returned as an error.
func (h *Host) evaluate(ctx context.Context, f *frame, code string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := h.logger.With(zap.String("frame_url", f.url))
	vm := goja.New()
	bindDocument(vm, f, log)

	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	value, err := vm.RunString(code)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("script interrupted: %w", context.Cause(ctx))
		}
		log.Warn("Injected script threw.", zap.Error(err))
		return jsonNull, nil
	}

	if promise, ok := value.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			value = promise.Result()
		case goja.PromiseStateRejected:
			log.Warn("Injected script rejected.", zap.Any("reason", promise.Result().Export()))
			return jsonNull, nil
		default:
			log.Warn("Injected script left a pending promise.")
			return jsonNull, nil
		}
	}
	return exportJSON(value, log), nil
}

// exportJSON converts a script's completion value to JSON. Values with no
// JSON form (undefined, functions, cyclic objects) become null.
func exportJSON(value goja.Value, log *zap.Logger) json.RawMessage {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return jsonNull
	}
	raw, err := json.Marshal(value.Export())
	if err != nil {
		log.Debug("Script result is not serializable.", zap.Error(err))
		return jsonNull
	}
	return raw
}
