package components

import (
	"context"
	"time"

	"github.com/fmzchao/studio/engine/component"
	"github.com/fmzchao/studio/engine/schema"
	"github.com/fmzchao/studio/engine/wferrors"
)

// Approval suspends the run until a human approves or rejects. The
// component only emits the awaiting-input sentinel; the engine registers
// the request and resumes the action when a resolution arrives.
func Approval() component.Component {
	return component.New(component.Opts{
		ID:     "core.input.approval",
		Inputs: schema.NewObject(),
		Outputs: schema.NewObject(
			schema.NewPort("approved", schema.Boolean()),
			schema.NewPort("rejected", schema.Boolean()),
			schema.NewPort("respondedBy", schema.Text()),
			schema.NewPort("requestId", schema.Text()),
		),
		Parameters: schema.NewObject(
			schema.ManualPort("title", schema.Text()),
			schema.ManualPort("description", schema.Text()),
			schema.ManualPort("timeoutSeconds", schema.Number()),
		),
		Execute: func(ctx context.Context, args component.Args, ec *component.ExecutionContext) (map[string]interface{}, error) {
			title, _ := args.Params["title"].(string)
			if title == "" {
				return nil, wferrors.NewValidationError("approval requires a title", map[string]string{
					"title": "required value is missing",
				})
			}

			sentinel := map[string]interface{}{
				"pending":   true,
				"inputType": "approval",
				"title":     title,
			}
			if description, ok := args.Params["description"].(string); ok && description != "" {
				sentinel["description"] = description
			}
			if len(args.Inputs) > 0 {
				sentinel["contextData"] = args.Inputs
			}
			if inputSchema, ok := args.Params["inputSchema"].(map[string]interface{}); ok {
				sentinel["inputSchema"] = inputSchema
			}
			if timeoutSeconds, ok := args.Params["timeoutSeconds"].(float64); ok && timeoutSeconds > 0 {
				timeoutAt := time.Now().Add(time.Duration(timeoutSeconds * float64(time.Second)))
				sentinel["timeoutAt"] = timeoutAt.Format(time.RFC3339)
			}
			return sentinel, nil
		},
	})
}
