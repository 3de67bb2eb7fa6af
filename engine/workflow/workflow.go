// Package workflow defines the immutable DAG definition executed by the
// scheduler: actions bound to components, success/error edges, per-node join
// metadata, and the run request/result envelope.
package workflow

// EntrypointComponentID marks the component that receives runtime inputs.
// Runtime data is injected only into the entrypoint action, and only when its
// component id matches this marker.
const EntrypointComponentID = "core.workflow.entrypoint"

// RuntimeDataKey is the reserved input key carrying runtime inputs into the
// entrypoint component
const RuntimeDataKey = "__runtimeData"

// SelfHandle resolves an entire upstream output rather than a single field
const SelfHandle = "__self__"

// JoinStrategy is the fan-in rule for a node with multiple inbound edges
type JoinStrategy string

const (
	JoinAll   JoinStrategy = "all"
	JoinAny   JoinStrategy = "any"
	JoinFirst JoinStrategy = "first"
)

// EdgeKind selects which parent outcome fires an edge
type EdgeKind string

const (
	EdgeSuccess EdgeKind = "success"
	EdgeError   EdgeKind = "error"
)

// Definition is an immutable workflow snapshot. Definitions are shared
// across runs and never mutated by the scheduler.
type Definition struct {
	Version          int                     `json:"version"`
	Title            string                  `json:"title"`
	Entrypoint       Entrypoint              `json:"entrypoint"`
	Nodes            map[string]NodeMetadata `json:"nodes"`
	Edges            []Edge                  `json:"edges"`
	DependencyCounts map[string]int          `json:"dependencyCounts,omitempty"`
	Actions          []Action                `json:"actions"`
	Config           Config                  `json:"config"`
}

// Entrypoint designates the action that receives runtime inputs
type Entrypoint struct {
	Ref string `json:"ref"`
}

// Config is the per-definition run configuration
type Config struct {
	Environment    string `json:"environment,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// NodeMetadata holds scheduling metadata for one ref
type NodeMetadata struct {
	Ref            string       `json:"ref"`
	Label          string       `json:"label,omitempty"`
	JoinStrategy   JoinStrategy `json:"joinStrategy,omitempty"`
	MaxConcurrency int          `json:"maxConcurrency,omitempty"`
	GroupID        string       `json:"groupId,omitempty"`
	StreamID       string       `json:"streamId,omitempty"`
}

// Join returns the effective join strategy, defaulting to all
func (n NodeMetadata) Join() JoinStrategy {
	if n.JoinStrategy == "" {
		return JoinAll
	}
	return n.JoinStrategy
}

// Stream returns the logical stream id used to correlate trace and log
// events: streamId, then groupId, then the ref itself
func (n NodeMetadata) Stream() string {
	if n.StreamID != "" {
		return n.StreamID
	}
	if n.GroupID != "" {
		return n.GroupID
	}
	return n.Ref
}

// Edge is one directed relation between two refs. More than one edge may
// exist between the same pair (a success and an error edge).
type Edge struct {
	ID           string   `json:"id"`
	SourceRef    string   `json:"sourceRef"`
	TargetRef    string   `json:"targetRef"`
	SourceHandle string   `json:"sourceHandle,omitempty"`
	TargetHandle string   `json:"targetHandle,omitempty"`
	Kind         EdgeKind `json:"kind"`
}

// InputMapping binds a target input port to an upstream output handle
type InputMapping struct {
	SourceRef    string `json:"sourceRef"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// RetryPolicy is advisory metadata for the outer harness; the scheduler
// itself never retries
type RetryPolicy struct {
	MaxAttempts    int `json:"maxAttempts,omitempty"`
	BackoffSeconds int `json:"backoffSeconds,omitempty"`
}

// Action is one node of the DAG: a component binding plus its design-time
// configuration and port-level wiring
type Action struct {
	Ref            string                  `json:"ref"`
	ComponentID    string                  `json:"componentId"`
	Params         map[string]interface{}  `json:"params,omitempty"`
	InputOverrides map[string]interface{}  `json:"inputOverrides,omitempty"`
	DependsOn      []string                `json:"dependsOn,omitempty"`
	InputMappings  map[string]InputMapping `json:"inputMappings,omitempty"`
	RetryPolicy    *RetryPolicy            `json:"retryPolicy,omitempty"`
}

// Action returns the action for ref
func (d *Definition) Action(ref string) (*Action, bool) {
	for i := range d.Actions {
		if d.Actions[i].Ref == ref {
			return &d.Actions[i], true
		}
	}
	return nil, false
}

// Node returns scheduling metadata for ref, with a ref-only default when the
// definition carries none
func (d *Definition) Node(ref string) NodeMetadata {
	if n, ok := d.Nodes[ref]; ok {
		if n.Ref == "" {
			n.Ref = ref
		}
		return n
	}
	return NodeMetadata{Ref: ref}
}

// Indegree returns the number of inbound edges the scheduler waits on for
// ref: the compiled dependency count when present, the dependsOn length
// otherwise. Validate checks both against the edge list.
func (d *Definition) Indegree(ref string) int {
	if d.DependencyCounts != nil {
		if n, ok := d.DependencyCounts[ref]; ok {
			return n
		}
	}
	if a, ok := d.Action(ref); ok {
		return len(a.DependsOn)
	}
	return 0
}

// OutgoingEdges returns edges with ref as source, in definition order
func (d *Definition) OutgoingEdges(ref string) []Edge {
	var out []Edge
	for _, e := range d.Edges {
		if e.SourceRef == ref {
			out = append(out, e)
		}
	}
	return out
}

// InboundEdges returns edges with ref as target, in definition order
func (d *Definition) InboundEdges(ref string) []Edge {
	var in []Edge
	for _, e := range d.Edges {
		if e.TargetRef == ref {
			in = append(in, e)
		}
	}
	return in
}

// Status is the lifecycle state of one action within a run
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is a terminal state
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// ActionOutcome is the terminal result of one action, stored single-assign
// in the run's results map
type ActionOutcome struct {
	Status            Status                 `json:"status"`
	Output            map[string]interface{} `json:"output,omitempty"`
	Err               error                  `json:"-"`
	ActiveOutputPorts []string               `json:"activeOutputPorts,omitempty"`
}

// RunRequest parameterizes one execution of a definition
type RunRequest struct {
	RunID             string                 `json:"runId"`
	WorkflowID        string                 `json:"workflowId"`
	Definition        *Definition            `json:"definition"`
	Inputs            map[string]interface{} `json:"inputs,omitempty"`
	OrganizationID    string                 `json:"organizationId,omitempty"`
	WorkflowVersionID string                 `json:"workflowVersionId,omitempty"`
	ParentRunID       string                 `json:"parentRunId,omitempty"`
	ParentNodeRef     string                 `json:"parentNodeRef,omitempty"`
	Depth             int                    `json:"depth,omitempty"`
	CallChain         []string               `json:"callChain,omitempty"`
}

// RunResult is the terminal outcome of a run
type RunResult struct {
	Outputs map[string]map[string]interface{} `json:"outputs"`
	Success bool                              `json:"success"`
	Error   string                            `json:"error,omitempty"`
}
