package components

import (
	"context"
	"fmt"

	"github.com/fmzchao/studio/engine/component"
	"github.com/fmzchao/studio/engine/schema"
	"github.com/fmzchao/studio/engine/wferrors"
)

// Condition evaluates a CEL expression against its inputs and routes the
// true or false output port. Expressions reference inputs as $.field or
// output.field; run context is available as ctx.runId / ctx.nodeRef /
// ctx.triggeredBy.
func Condition(evaluator *Evaluator) component.Component {
	return component.New(component.Opts{
		ID:     "core.logic.condition",
		Inputs: schema.NewObject(),
		Outputs: schema.NewObject(
			schema.NewPort("result", schema.Boolean()),
		),
		Parameters: schema.NewObject(
			schema.ManualPort("expression", schema.Text()),
		),
		Execute: func(ctx context.Context, args component.Args, ec *component.ExecutionContext) (map[string]interface{}, error) {
			expr, _ := args.Params["expression"].(string)
			if expr == "" {
				return nil, wferrors.NewValidationError("condition requires an expression", map[string]string{
					"expression": "required value is missing",
				})
			}

			runContext := map[string]interface{}{
				"runId":       ec.RunID,
				"nodeRef":     ec.ComponentRef,
				"triggeredBy": ec.Metadata.TriggeredBy,
			}
			result, err := evaluator.Evaluate(expr, args.Inputs, runContext)
			if err != nil {
				return nil, wferrors.NewValidationError("condition evaluation failed", map[string]string{
					"expression": err.Error(),
				})
			}

			return map[string]interface{}{
				"result":                 result,
				component.ActivePortsKey: []string{fmt.Sprintf("%t", result)},
			}, nil
		},
	})
}
