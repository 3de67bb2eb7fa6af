// Package runner executes a single action end to end: input resolution,
// schema parsing, component execution, output spill, and the trace and
// node-I/O bookkeeping around each step.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/common/metrics"
	"github.com/fmzchao/studio/engine/component"
	"github.com/fmzchao/studio/engine/inputs"
	"github.com/fmzchao/studio/engine/logs"
	"github.com/fmzchao/studio/engine/nodeio"
	"github.com/fmzchao/studio/engine/resolver"
	"github.com/fmzchao/studio/engine/schema"
	"github.com/fmzchao/studio/engine/secrets"
	"github.com/fmzchao/studio/engine/spill"
	"github.com/fmzchao/studio/engine/storage"
	"github.com/fmzchao/studio/engine/trace"
	"github.com/fmzchao/studio/engine/wferrors"
	"github.com/fmzchao/studio/engine/workflow"
)

// summaryStringLimit bounds string fields in trace output summaries
const summaryStringLimit = 256

// Opts wires one runner to its run. Definition, Registry, Resolver,
// Sequencer, NodeIO, Spiller, Store, and Logger are required.
type Opts struct {
	Definition    *workflow.Definition
	Registry      *component.Registry
	Resolver      *resolver.Resolver
	Sequencer     *trace.Sequencer
	NodeIO        *nodeio.Recorder
	Spiller       *spill.Spiller
	Store         storage.Store
	Artifacts     storage.Store
	Secrets       secrets.Provider
	Broker        *inputs.Broker
	LogSink       logs.Sink
	Logger        *logger.Logger
	RunID         string
	WorkflowID    string
	RuntimeInputs map[string]interface{}
}

// Runner executes the actions of a single run
type Runner struct {
	definition *workflow.Definition
	registry   *component.Registry
	resolver   *resolver.Resolver
	sequencer  *trace.Sequencer
	nodeIO     *nodeio.Recorder
	spiller    *spill.Spiller
	store      storage.Store
	artifacts  storage.Store
	secrets    secrets.Provider
	broker     *inputs.Broker
	logSink    logs.Sink
	log        *logger.Logger

	runID         string
	workflowID    string
	runtimeInputs map[string]interface{}
}

// New creates a runner for one run
func New(opts Opts) *Runner {
	if opts.Broker == nil {
		opts.Broker = inputs.NewBroker(opts.Logger)
	}
	if opts.RuntimeInputs == nil {
		opts.RuntimeInputs = make(map[string]interface{})
	}
	if opts.Artifacts == nil {
		opts.Artifacts = opts.Store
	}
	return &Runner{
		definition:    opts.Definition,
		registry:      opts.Registry,
		resolver:      opts.Resolver,
		sequencer:     opts.Sequencer,
		nodeIO:        opts.NodeIO,
		spiller:       opts.Spiller,
		store:         opts.Store,
		artifacts:     opts.Artifacts,
		secrets:       opts.Secrets,
		broker:        opts.Broker,
		logSink:       opts.LogSink,
		log:           opts.Logger,
		runID:         opts.RunID,
		workflowID:    opts.WorkflowID,
		runtimeInputs: opts.RuntimeInputs,
	}
}

// Broker returns the input broker actions suspend on
func (r *Runner) Broker() *inputs.Broker {
	return r.broker
}

// Invocation is the scheduling context for one dispatch: which parent
// satisfaction made the node ready and, for error-edge targets, the
// upstream failure metadata.
type Invocation struct {
	Ref         string
	TriggeredBy string
	Failure     *component.Failure
	Results     map[string]map[string]interface{}
}

// RunAction executes one action and returns its terminal outcome. Failures
// are recorded as NODE_FAILED plus a node-I/O completion before returning;
// the scheduler routes them to error edges.
func (r *Runner) RunAction(ctx context.Context, inv Invocation) workflow.ActionOutcome {
	action, ok := r.definition.Action(inv.Ref)
	if !ok {
		err := wferrors.NewNotFoundError("action", inv.Ref)
		r.recordFailure(ctx, inv.Ref, "", err)
		return workflow.ActionOutcome{Status: workflow.StatusFailed, Err: err}
	}
	comp, ok := r.registry.Get(action.ComponentID)
	if !ok {
		err := wferrors.NewNotFoundError("component", action.ComponentID)
		r.recordFailure(ctx, inv.Ref, action.ComponentID, err)
		return workflow.ActionOutcome{Status: workflow.StatusFailed, Err: err}
	}

	node := r.definition.Node(inv.Ref)
	collector := logs.NewCollector(r.runID, inv.Ref, r.logSink, r.log)

	startContext := map[string]interface{}{
		"streamId":     node.Stream(),
		"joinStrategy": string(node.Join()),
	}
	if inv.TriggeredBy != "" {
		startContext["triggeredBy"] = inv.TriggeredBy
	}
	if inv.Failure != nil {
		startContext["failure"] = inv.Failure
	}
	r.sequencer.Record(ctx, trace.Event{
		RunID:   r.runID,
		NodeRef: inv.Ref,
		Type:    trace.NodeStarted,
		Level:   trace.LevelInfo,
		Message: "node started",
		Context: startContext,
	})

	output, activePorts, err := r.executeAction(ctx, inv, action, comp, node, collector)
	collector.Flush(ctx)
	if err != nil {
		// Run-level cancellation surfaces as a timeout on the action
		if errors.Is(err, context.DeadlineExceeded) {
			err = wferrors.NewTimeoutError("action cancelled by run timeout", 0)
		} else if errors.Is(err, context.Canceled) {
			err = wferrors.NewTimeoutError("action cancelled", 0)
		}
		r.recordFailure(ctx, inv.Ref, action.ComponentID, err)
		return workflow.ActionOutcome{Status: workflow.StatusFailed, Err: err}
	}
	return workflow.ActionOutcome{
		Status:            workflow.StatusCompleted,
		Output:            output,
		ActiveOutputPorts: activePorts,
	}
}

func (r *Runner) executeAction(ctx context.Context, inv Invocation, action *workflow.Action, comp component.Component, node workflow.NodeMetadata, collector *logs.Collector) (map[string]interface{}, []string, error) {
	payload := r.resolver.BuildActionPayload(action, inv.Results, comp.Inputs())

	for _, override := range payload.ManualOverrides {
		r.sequencer.Record(ctx, trace.Event{
			RunID:   r.runID,
			NodeRef: inv.Ref,
			Type:    trace.NodeProgress,
			Level:   trace.LevelDebug,
			Message: fmt.Sprintf("manual value kept for input '%s'", override.Target),
			Data: map[string]interface{}{
				"target":    override.Target,
				"sourceRef": override.SourceRef,
			},
		})
	}
	for _, warning := range payload.Warnings {
		r.sequencer.Record(ctx, trace.Event{
			RunID:   r.runID,
			NodeRef: inv.Ref,
			Type:    trace.NodeProgress,
			Level:   trace.LevelWarn,
			Message: fmt.Sprintf("Input '%s' could not be resolved from %s.%s: %s",
				warning.Target, warning.SourceRef, displayHandle(warning.SourceHandle), warning.Reason),
			Data: map[string]interface{}{
				"target":       warning.Target,
				"sourceRef":    warning.SourceRef,
				"sourceHandle": warning.SourceHandle,
				"reason":       warning.Reason,
			},
		})
	}
	if len(payload.Warnings) > 0 {
		// Resolver warnings are hard failures once recorded
		missing := make([]string, 0, len(payload.Warnings))
		fieldErrors := make(map[string]string, len(payload.Warnings))
		for _, warning := range payload.Warnings {
			missing = append(missing, fmt.Sprintf("Input '%s'", warning.Target))
			fieldErrors[warning.Target] = fmt.Sprintf("Input '%s' could not be resolved: %s",
				warning.Target, warning.Reason)
		}
		return nil, nil, wferrors.NewValidationError(
			"missing required inputs: "+strings.Join(missing, ", "), fieldErrors)
	}

	// Materialize spilled inputs, cached per storage ref for this action
	materializer := spill.NewMaterializer(r.store)
	for key, value := range payload.Inputs {
		marker, spilled := spill.IsMarker(value)
		if !spilled {
			continue
		}
		resolved, err := materializer.Resolve(ctx, marker)
		if err != nil {
			return nil, nil, err
		}
		payload.Inputs[key] = resolved
	}

	// Runtime inputs are injected only at the entrypoint action
	if inv.Ref == r.definition.Entrypoint.Ref {
		if comp.ID() == workflow.EntrypointComponentID {
			payload.Inputs[workflow.RuntimeDataKey] = r.runtimeInputs
		} else {
			r.log.Error("entrypoint ref is not bound to the entrypoint component",
				"run_id", r.runID,
				"node_ref", inv.Ref,
				"component_id", comp.ID())
		}
	}

	parsedInputs := payload.Inputs
	if comp.Inputs() != nil {
		parsed, err := comp.Inputs().Parse(payload.Inputs)
		if err != nil {
			return nil, nil, err
		}
		parsedInputs = parsed
	}
	parsedParams := payload.Params
	if comp.Parameters() != nil {
		parsed, err := comp.Parameters().Parse(payload.Params)
		if err != nil {
			return nil, nil, err
		}
		parsedParams = parsed
	}

	ec := &component.ExecutionContext{
		RunID:        r.runID,
		ComponentRef: inv.Ref,
		Metadata: component.Metadata{
			StreamID:      node.Stream(),
			JoinStrategy:  node.Join(),
			CorrelationID: r.runID,
			TriggeredBy:   inv.TriggeredBy,
			Failure:       inv.Failure,
		},
		Storage:      r.store,
		Artifacts:    r.artifacts,
		Trace:        progressTracer{sequencer: r.sequencer, runID: r.runID, nodeRef: inv.Ref},
		LogCollector: collector,
	}
	if comp.RequiresSecrets() {
		if r.secrets == nil {
			return nil, nil, wferrors.NewConfigurationError(
				fmt.Sprintf("component %s requires secrets but no provider is configured", comp.ID()))
		}
		ec.Secrets = r.secrets
	}

	r.nodeIO.RecordStart(ctx, nodeio.Event{
		RunID:       r.runID,
		NodeRef:     inv.Ref,
		WorkflowID:  r.workflowID,
		ComponentID: comp.ID(),
		Inputs:      maskValues(comp.Inputs(), parsedInputs),
	})

	capture := metrics.Start()
	output, execErr := comp.Execute(ctx, component.Args{Inputs: parsedInputs, Params: parsedParams}, ec)
	snapshot := capture.Stop()
	if execErr != nil {
		return nil, nil, execErr
	}

	var activePorts []string
	if sentinel, pending := inputs.ParseSentinel(output); pending {
		resolved, ports, err := r.awaitInput(ctx, inv.Ref, sentinel)
		if err != nil {
			return nil, nil, err
		}
		output = resolved
		activePorts = ports
	} else {
		activePorts = component.ActivePorts(output)
	}

	if comp.Outputs() != nil {
		parsed, err := comp.Outputs().Parse(output)
		if err != nil {
			return nil, nil, err
		}
		output = parsed
	}
	if output == nil {
		output = make(map[string]interface{})
	}

	finalOutput, _, err := r.spiller.MaybeSpill(ctx, r.runID, inv.Ref, output)
	if err != nil {
		return nil, nil, err
	}

	r.nodeIO.RecordCompletion(ctx, nodeio.Event{
		RunID:       r.runID,
		NodeRef:     inv.Ref,
		WorkflowID:  r.workflowID,
		ComponentID: comp.ID(),
		Outputs:     maskValues(comp.Outputs(), finalOutput),
		Status:      string(workflow.StatusCompleted),
	})

	data := snapshot.ToMap()
	data["system"] = metrics.GetSystemInfo().ToMap()

	// Summarize the pre-spill output so real fields show in the trace
	r.sequencer.Record(ctx, trace.Event{
		RunID:         r.runID,
		NodeRef:       inv.Ref,
		Type:          trace.NodeCompleted,
		Level:         trace.LevelInfo,
		Message:       "node completed",
		Data:          data,
		OutputSummary: summarize(maskValues(comp.Outputs(), output)),
	})

	return finalOutput, activePorts, nil
}

// awaitInput registers an input request for a pending sentinel and blocks
// until its resolution or timeout
func (r *Runner) awaitInput(ctx context.Context, ref string, sentinel *inputs.Sentinel) (map[string]interface{}, []string, error) {
	req, err := r.broker.Create(ctx, inputs.Request{
		RunID:       r.runID,
		NodeRef:     ref,
		InputType:   sentinel.InputType,
		Title:       sentinel.Title,
		Description: sentinel.Description,
		ContextData: sentinel.ContextData,
		InputSchema: sentinel.InputSchema,
		TimeoutAt:   sentinel.TimeoutAt,
	})
	if err != nil {
		return nil, nil, err
	}

	data := map[string]interface{}{
		"requestId": req.ID,
		"inputType": req.InputType,
		"title":     req.Title,
	}
	if req.TimeoutAt != nil {
		data["timeoutAt"] = req.TimeoutAt.Format(time.RFC3339)
	}
	r.sequencer.Record(ctx, trace.Event{
		RunID:   r.runID,
		NodeRef: ref,
		Type:    trace.AwaitingInput,
		Level:   trace.LevelInfo,
		Message: "awaiting external input",
		Data:    data,
	})

	resolution, err := r.broker.Await(ctx, req.ID)
	if err != nil {
		return nil, nil, err
	}
	return resolution.Output(), resolution.ActivePorts(), nil
}

func (r *Runner) recordFailure(ctx context.Context, ref, componentID string, err error) {
	r.sequencer.Record(ctx, trace.Event{
		RunID:   r.runID,
		NodeRef: ref,
		Type:    trace.NodeFailed,
		Level:   trace.LevelError,
		Message: err.Error(),
		Error:   wferrors.Describe(err),
	})
	r.nodeIO.RecordCompletion(ctx, nodeio.Event{
		RunID:        r.runID,
		NodeRef:      ref,
		WorkflowID:   r.workflowID,
		ComponentID:  componentID,
		Status:       string(workflow.StatusFailed),
		ErrorMessage: err.Error(),
	})
	r.log.Error("action failed",
		"run_id", r.runID,
		"node_ref", ref,
		"error_kind", wferrors.Name(err),
		"error", err.Error())
}

// progressTracer lets components emit NODE_PROGRESS events mid-execution
type progressTracer struct {
	sequencer *trace.Sequencer
	runID     string
	nodeRef   string
}

func (t progressTracer) Progress(level, message string, data map[string]interface{}) {
	t.sequencer.Record(context.Background(), trace.Event{
		RunID:   t.runID,
		NodeRef: t.nodeRef,
		Type:    trace.NodeProgress,
		Level:   traceLevel(level),
		Message: message,
		Data:    data,
	})
}

func traceLevel(level string) trace.Level {
	switch level {
	case "debug":
		return trace.LevelDebug
	case "warn", "warning":
		return trace.LevelWarn
	case "error":
		return trace.LevelError
	default:
		return trace.LevelInfo
	}
}

func maskValues(obj *schema.Object, values map[string]interface{}) interface{} {
	if obj == nil {
		return values
	}
	return obj.Mask(values)
}

func displayHandle(handle string) string {
	if handle == "" {
		return workflow.SelfHandle
	}
	return handle
}

// summarize reduces an output to trace-friendly fields: scalars pass
// through, long strings are cut, arrays report their lengths, nested
// objects are elided under a truncation flag
func summarize(masked interface{}) map[string]interface{} {
	output, ok := masked.(map[string]interface{})
	if !ok {
		return map[string]interface{}{"_truncated": true}
	}
	if len(output) == 0 {
		return nil
	}

	summary := make(map[string]interface{}, len(output)+1)
	truncated := false
	for key, value := range output {
		switch v := value.(type) {
		case nil:
			summary[key] = nil
		case string:
			if len(v) > summaryStringLimit {
				summary[key] = v[:summaryStringLimit]
				truncated = true
			} else {
				summary[key] = v
			}
		case bool, float64, int, int64, json.Number:
			summary[key] = v
		case []interface{}:
			summary[key] = map[string]interface{}{"length": len(v)}
		case []string:
			summary[key] = map[string]interface{}{"length": len(v)}
		default:
			truncated = true
		}
	}
	if truncated {
		summary["_truncated"] = true
	}
	return summary
}
