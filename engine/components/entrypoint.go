package components

import (
	"context"

	"github.com/fmzchao/studio/engine/component"
	"github.com/fmzchao/studio/engine/schema"
	"github.com/fmzchao/studio/engine/workflow"
)

// Entrypoint marks the root of a workflow. The runner injects the run
// inputs under the reserved runtime-data key; the component re-emits them
// as its output so downstream actions can map ports from the entrypoint.
func Entrypoint() component.Component {
	return component.New(component.Opts{
		ID:         workflow.EntrypointComponentID,
		Inputs:     schema.NewObject(),
		Outputs:    schema.NewObject(),
		Parameters: schema.NewObject(),
		Execute: func(ctx context.Context, args component.Args, ec *component.ExecutionContext) (map[string]interface{}, error) {
			out := make(map[string]interface{}, len(args.Inputs))
			for k, v := range args.Inputs {
				if k == workflow.RuntimeDataKey {
					continue
				}
				out[k] = v
			}
			// Run inputs win over design-time values at the root
			if rd, ok := args.Inputs[workflow.RuntimeDataKey].(map[string]interface{}); ok {
				for k, v := range rd {
					out[k] = v
				}
			}
			return out, nil
		},
	})
}
