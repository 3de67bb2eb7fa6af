package components

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fmzchao/studio/engine/component"
	"github.com/fmzchao/studio/engine/logs"
	"github.com/fmzchao/studio/engine/schema"
)

// ConsoleLog writes its inputs to the run's console log stream
func ConsoleLog() component.Component {
	return component.New(component.Opts{
		ID:      "core.console.log",
		Inputs:  schema.NewObject(),
		Outputs: schema.NewObject(),
		Parameters: schema.NewObject(
			schema.ManualPort("level", schema.Text()),
		),
		Execute: func(ctx context.Context, args component.Args, ec *component.ExecutionContext) (map[string]interface{}, error) {
			level, _ := args.Params["level"].(string)
			if level == "" {
				level = "info"
			}

			message := consoleMessage(args.Inputs)
			if ec.LogCollector != nil {
				ec.LogCollector.Log(logs.StreamConsole, level, message, args.Inputs)
			}

			return map[string]interface{}{
				"logged":  true,
				"message": message,
			}, nil
		},
	})
}

// consoleMessage picks a printable message: an explicit message/data/label
// input, otherwise the inputs as JSON
func consoleMessage(inputs map[string]interface{}) string {
	for _, key := range []string{"message", "data", "label"} {
		if v, ok := inputs[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if b, err := json.Marshal(v); err == nil {
				return string(b)
			}
			return fmt.Sprintf("%v", v)
		}
	}
	if len(inputs) == 0 {
		return ""
	}
	if b, err := json.Marshal(inputs); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", inputs)
}
