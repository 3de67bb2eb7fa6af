// Package resolver assembles the input payload for one action from upstream
// outputs: port-level mappings, manual overrides, type coercion, and
// transparent handling of spill markers.
package resolver

import (
	"encoding/json"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/engine/schema"
	"github.com/fmzchao/studio/engine/spill"
	"github.com/fmzchao/studio/engine/workflow"
)

// Warning records an input that could not be resolved. The runner elevates
// remaining warnings to a hard validation failure.
type Warning struct {
	Target       string `json:"target"`
	SourceRef    string `json:"sourceRef"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Override records a manual value that took precedence over a connection
type Override struct {
	Target    string `json:"target"`
	SourceRef string `json:"sourceRef"`
}

// Payload is the assembled invocation payload for one action
type Payload struct {
	Inputs          map[string]interface{}
	Params          map[string]interface{}
	Warnings        []Warning
	ManualOverrides []Override
}

// Resolver builds action payloads. It never fails; unresolvable inputs
// surface as warnings.
type Resolver struct {
	log *logger.Logger
}

// New creates a resolver
func New(log *logger.Logger) *Resolver {
	return &Resolver{log: log}
}

// BuildActionPayload maps upstream outputs onto the action's input ports.
// results holds the outputs of completed upstream actions keyed by ref;
// inputSchema is the target component's input schema (nil skips coercion).
// Mappings are processed in sorted target order so warning and override
// order is stable across runs.
func (r *Resolver) BuildActionPayload(action *workflow.Action, results map[string]map[string]interface{}, inputSchema *schema.Object) *Payload {
	payload := &Payload{
		Inputs: make(map[string]interface{}, len(action.InputOverrides)+len(action.InputMappings)),
		Params: make(map[string]interface{}, len(action.Params)),
	}
	for k, v := range action.InputOverrides {
		payload.Inputs[k] = v
	}
	for k, v := range action.Params {
		payload.Params[k] = v
	}

	targets := make([]string, 0, len(action.InputMappings))
	for target := range action.InputMappings {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	for _, target := range targets {
		mapping := action.InputMappings[target]
		handle := mapping.SourceHandle
		if handle == "" {
			handle = workflow.SelfHandle
		}

		// Manual-first ports keep their override when one is set
		if inputSchema != nil {
			if port, ok := inputSchema.Port(target); ok && port.Priority == schema.ManualFirst {
				if existing, set := payload.Inputs[target]; set && existing != nil {
					payload.ManualOverrides = append(payload.ManualOverrides, Override{
						Target:    target,
						SourceRef: mapping.SourceRef,
					})
					continue
				}
			}
		}

		src, ok := results[mapping.SourceRef]
		if !ok {
			payload.Warnings = append(payload.Warnings, Warning{
				Target:       target,
				SourceRef:    mapping.SourceRef,
				SourceHandle: mapping.SourceHandle,
				Reason:       "upstream output not available",
			})
			continue
		}

		// Spilled upstream outputs pass through as a marker tagged with the
		// requested handle; the runner materializes them from storage
		if marker, spilled := spill.IsMarker(src); spilled {
			payload.Inputs[target] = marker.Tagged(handle)
			continue
		}

		value, defined := resolveHandle(src, handle)
		if !defined {
			payload.Warnings = append(payload.Warnings, Warning{
				Target:       target,
				SourceRef:    mapping.SourceRef,
				SourceHandle: mapping.SourceHandle,
				Reason:       "handle not present in upstream output",
			})
			continue
		}

		if inputSchema != nil {
			if port, ok := inputSchema.Port(target); ok {
				coerced, err := schema.Coerce(value, port.Type)
				if err != nil {
					reason := err.Error()
					if port.Type.IsSecret() {
						// Coercion errors can quote the offending value
						reason = "secret value rejected"
					}
					payload.Warnings = append(payload.Warnings, Warning{
						Target:       target,
						SourceRef:    mapping.SourceRef,
						SourceHandle: mapping.SourceHandle,
						Reason:       reason,
					})
					continue
				}
				value = coerced
			}
		}
		payload.Inputs[target] = value
	}

	return payload
}

// resolveHandle extracts a value from an upstream output: the whole output
// for the self handle, a top-level field otherwise, with a gjson path
// lookup for dotted handles
func resolveHandle(src map[string]interface{}, handle string) (interface{}, bool) {
	if handle == workflow.SelfHandle {
		return src, true
	}
	if value, ok := src[handle]; ok {
		return value, true
	}

	encoded, err := json.Marshal(src)
	if err != nil {
		return nil, false
	}
	result := gjson.GetBytes(encoded, handle)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}
