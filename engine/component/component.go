// Package component defines the contract between the engine and the typed
// functions it executes: declared input/output schemas, the per-invocation
// execution context, and the process-global registry.
package component

import (
	"context"

	"github.com/fmzchao/studio/engine/logs"
	"github.com/fmzchao/studio/engine/schema"
	"github.com/fmzchao/studio/engine/secrets"
	"github.com/fmzchao/studio/engine/storage"
	"github.com/fmzchao/studio/engine/workflow"
)

// ActivePortsKey is the output key conditional components use to select
// which success edges fire. Absent means all success edges fire.
const ActivePortsKey = "activeOutputPorts"

// Args carries the resolved inputs and design-time params of one invocation
type Args struct {
	Inputs map[string]interface{}
	Params map[string]interface{}
}

// ExecuteFunc is the body of a component
type ExecuteFunc func(ctx context.Context, args Args, ec *ExecutionContext) (map[string]interface{}, error)

// Component is a registered, typed function. Implementations are stateless;
// all per-invocation state flows through the execution context.
type Component interface {
	ID() string
	Inputs() *schema.Object
	Outputs() *schema.Object
	Parameters() *schema.Object
	RequiresSecrets() bool
	Execute(ctx context.Context, args Args, ec *ExecutionContext) (map[string]interface{}, error)
}

// Opts declares a component for registration
type Opts struct {
	ID              string
	Inputs          *schema.Object
	Outputs         *schema.Object
	Parameters      *schema.Object
	RequiresSecrets bool
	Execute         ExecuteFunc
}

// New creates a component from its declaration
func New(opts Opts) Component {
	return &definition{opts: opts}
}

type definition struct {
	opts Opts
}

func (d *definition) ID() string                 { return d.opts.ID }
func (d *definition) Inputs() *schema.Object     { return d.opts.Inputs }
func (d *definition) Outputs() *schema.Object    { return d.opts.Outputs }
func (d *definition) Parameters() *schema.Object { return d.opts.Parameters }
func (d *definition) RequiresSecrets() bool      { return d.opts.RequiresSecrets }

func (d *definition) Execute(ctx context.Context, args Args, ec *ExecutionContext) (map[string]interface{}, error) {
	return d.opts.Execute(ctx, args, ec)
}

// Failure carries upstream failure metadata to a node reached via an error
// edge
type Failure struct {
	At     string                 `json:"at"`
	Reason map[string]interface{} `json:"reason,omitempty"`
}

// Metadata is the scheduling context of one invocation
type Metadata struct {
	StreamID      string
	JoinStrategy  workflow.JoinStrategy
	CorrelationID string
	TriggeredBy   string
	Failure       *Failure
}

// Tracer lets a component emit progress events mid-execution
type Tracer interface {
	Progress(level, message string, data map[string]interface{})
}

// ExecutionContext is the per-invocation capability handle. It is
// constructed by the runner and never mutated afterwards. Secrets is nil
// unless the component declares RequiresSecrets.
type ExecutionContext struct {
	RunID        string
	ComponentRef string
	Metadata     Metadata
	Storage      storage.Store
	Artifacts    storage.Store
	Secrets      secrets.Provider
	Trace        Tracer
	LogCollector *logs.Collector
}

// ActivePorts extracts the conditional routing selection from an output,
// nil when the component did not constrain its success edges
func ActivePorts(output map[string]interface{}) []string {
	if output == nil {
		return nil
	}
	raw, ok := output[ActivePortsKey]
	if !ok {
		return nil
	}
	switch ports := raw.(type) {
	case []string:
		return ports
	case []interface{}:
		out := make([]string, 0, len(ports))
		for _, p := range ports {
			if s, ok := p.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
