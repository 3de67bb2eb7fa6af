package components

import (
	"context"
	"time"

	"github.com/fmzchao/studio/engine/component"
	"github.com/fmzchao/studio/engine/schema"
)

// Delay pauses for a configured duration and passes its inputs through
func Delay() component.Component {
	return component.New(component.Opts{
		ID:      "core.util.delay",
		Inputs:  schema.NewObject(),
		Outputs: schema.NewObject(),
		Parameters: schema.NewObject(
			schema.ManualPort("durationMs", schema.Number()),
		),
		Execute: func(ctx context.Context, args component.Args, ec *component.ExecutionContext) (map[string]interface{}, error) {
			durationMs, _ := args.Params["durationMs"].(float64)
			if durationMs > 0 {
				select {
				case <-time.After(time.Duration(durationMs) * time.Millisecond):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}

			out := make(map[string]interface{}, len(args.Inputs)+1)
			for k, v := range args.Inputs {
				out[k] = v
			}
			out["delayedMs"] = durationMs
			return out, nil
		},
	})
}
