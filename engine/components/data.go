package components

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/fmzchao/studio/engine/component"
	"github.com/fmzchao/studio/engine/schema"
	"github.com/fmzchao/studio/engine/wferrors"
)

// Echo returns its inputs unchanged
func Echo() component.Component {
	return component.New(component.Opts{
		ID:         "core.util.echo",
		Inputs:     schema.NewObject(),
		Outputs:    schema.NewObject(),
		Parameters: schema.NewObject(),
		Execute: func(ctx context.Context, args component.Args, ec *component.ExecutionContext) (map[string]interface{}, error) {
			out := make(map[string]interface{}, len(args.Inputs))
			for k, v := range args.Inputs {
				out[k] = v
			}
			return out, nil
		},
	})
}

// Patch applies an RFC 6902 patch or RFC 7386 merge patch to a JSON
// document
func Patch() component.Component {
	return component.New(component.Opts{
		ID: "core.data.patch",
		Inputs: schema.NewObject(
			schema.NewPort("document", schema.JSON()),
			schema.NewPort("patch", schema.JSON()),
		).Require("document", "patch"),
		Outputs: schema.NewObject(
			schema.NewPort("result", schema.JSON()),
		),
		Parameters: schema.NewObject(
			schema.ManualPort("mode", schema.Text()),
		),
		Execute: func(ctx context.Context, args component.Args, ec *component.ExecutionContext) (map[string]interface{}, error) {
			docJSON, err := json.Marshal(args.Inputs["document"])
			if err != nil {
				return nil, wferrors.NewValidationError("document is not serializable", map[string]string{
					"document": err.Error(),
				})
			}
			patchJSON, err := json.Marshal(args.Inputs["patch"])
			if err != nil {
				return nil, wferrors.NewValidationError("patch is not serializable", map[string]string{
					"patch": err.Error(),
				})
			}

			mode, _ := args.Params["mode"].(string)
			var modified []byte
			switch mode {
			case "", "patch":
				patch, err := jsonpatch.DecodePatch(patchJSON)
				if err != nil {
					return nil, wferrors.NewValidationError("failed to decode patch", map[string]string{
						"patch": err.Error(),
					})
				}
				modified, err = patch.Apply(docJSON)
				if err != nil {
					return nil, fmt.Errorf("failed to apply patch operations: %w", err)
				}
			case "merge":
				modified, err = jsonpatch.MergePatch(docJSON, patchJSON)
				if err != nil {
					return nil, fmt.Errorf("failed to apply merge patch: %w", err)
				}
			default:
				return nil, wferrors.NewValidationError("unsupported patch mode", map[string]string{
					"mode": fmt.Sprintf("expected patch or merge, got %q", mode),
				})
			}

			var result interface{}
			if err := json.Unmarshal(modified, &result); err != nil {
				return nil, fmt.Errorf("failed to unmarshal patched document: %w", err)
			}
			return map[string]interface{}{"result": result}, nil
		},
	})
}
