// Package scheduler drives one run of a workflow definition: an
// indegree-driven dispatch loop with parallel fan-out, per-edge settlement,
// deterministic joins, and success/error edge routing.
//
// All per-run state lives in a single runState owned by the scheduling
// goroutine; action bodies run concurrently and report back through a
// completion channel, so state mutations never race.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/engine/component"
	"github.com/fmzchao/studio/engine/runner"
	"github.com/fmzchao/studio/engine/trace"
	"github.com/fmzchao/studio/engine/wferrors"
	"github.com/fmzchao/studio/engine/workflow"
)

// DefaultMaxConcurrency caps simultaneous action executions per run
const DefaultMaxConcurrency = 10

// edgeSettlement is the terminal state of one inbound edge
type edgeSettlement string

const (
	edgeSatisfied edgeSettlement = "satisfied"
	edgeFailed    edgeSettlement = "failed"
	edgeCancelled edgeSettlement = "cancelled"
)

// Opts wires a scheduler to one run
type Opts struct {
	Definition     *workflow.Definition
	Runner         *runner.Runner
	Sequencer      *trace.Sequencer
	Logger         *logger.Logger
	RunID          string
	MaxConcurrency int
}

// Scheduler executes one workflow run
type Scheduler struct {
	definition     *workflow.Definition
	runner         *runner.Runner
	sequencer      *trace.Sequencer
	log            *logger.Logger
	runID          string
	maxConcurrency int
}

// New creates a scheduler; a non-positive MaxConcurrency selects the default
func New(opts Opts) *Scheduler {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Scheduler{
		definition:     opts.Definition,
		runner:         opts.Runner,
		sequencer:      opts.Sequencer,
		log:            opts.Logger,
		runID:          opts.RunID,
		maxConcurrency: opts.MaxConcurrency,
	}
}

// runState is the mutable per-run scheduling state. It is owned by the Run
// loop; action goroutines never touch it.
type runState struct {
	remaining      map[string]int
	status         map[string]workflow.Status
	parentStatus   map[string]map[string]edgeSettlement
	triggeredBy    map[string]string
	firstSatisfier map[string]string
	errorSatisfied map[string]bool
	failures       map[string]*component.Failure
	results        map[string]map[string]interface{}
	queued         map[string]bool
	ready          []string
	inflight       int
	anyFailure     bool
	failureMsgs    []string
}

func newRunState(def *workflow.Definition) *runState {
	n := len(def.Actions)
	state := &runState{
		remaining:      make(map[string]int, n),
		status:         make(map[string]workflow.Status, n),
		parentStatus:   make(map[string]map[string]edgeSettlement, n),
		triggeredBy:    make(map[string]string, n),
		firstSatisfier: make(map[string]string, n),
		errorSatisfied: make(map[string]bool, n),
		failures:       make(map[string]*component.Failure),
		results:        make(map[string]map[string]interface{}, n),
		queued:         make(map[string]bool, n),
	}
	for _, action := range def.Actions {
		state.status[action.Ref] = workflow.StatusPending
		state.remaining[action.Ref] = def.Indegree(action.Ref)
	}
	// Roots enqueue in definition order
	for _, action := range def.Actions {
		if state.remaining[action.Ref] == 0 {
			state.queued[action.Ref] = true
			state.ready = append(state.ready, action.Ref)
		}
	}
	return state
}

// resultsFor snapshots the upstream outputs an action may read. Outputs are
// single-assign and never mutated after the write, so sharing references
// with the action goroutine is safe.
func (st *runState) resultsFor(action *workflow.Action) map[string]map[string]interface{} {
	if action == nil {
		return map[string]map[string]interface{}{}
	}
	out := make(map[string]map[string]interface{}, len(action.DependsOn))
	for _, dep := range action.DependsOn {
		if res, ok := st.results[dep]; ok {
			out[dep] = res
		}
	}
	return out
}

type completion struct {
	ref     string
	outcome workflow.ActionOutcome
}

// Run executes the definition to termination and returns the run result.
// The returned error is non-nil only for scheduler-level faults (deadlock);
// per-action failures are reported through the result.
func (s *Scheduler) Run(ctx context.Context) (*workflow.RunResult, error) {
	state := newRunState(s.definition)

	runCtx := ctx
	timeout := time.Duration(s.definition.Config.TimeoutSeconds) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Buffered to the action count so in-flight sends never block after an
	// abort stops the receive loop early
	completions := make(chan completion, len(s.definition.Actions))

	s.log.Info("run started",
		"run_id", s.runID,
		"actions", len(s.definition.Actions),
		"roots", len(state.ready),
		"max_concurrency", s.maxConcurrency)

	aborted := false
	for {
		if !aborted {
			for len(state.ready) > 0 && state.inflight < s.maxConcurrency {
				ref := state.ready[0]
				state.ready = state.ready[1:]
				s.dispatch(runCtx, state, ref, completions)
			}
		}
		if state.inflight == 0 {
			break
		}
		if aborted {
			done := <-completions
			state.inflight--
			s.applyOutcome(runCtx, state, done.ref, done.outcome)
			continue
		}
		select {
		case done := <-completions:
			state.inflight--
			s.applyOutcome(runCtx, state, done.ref, done.outcome)
		case <-runCtx.Done():
			aborted = true
			s.log.Warn("run aborted, draining in-flight actions",
				"run_id", s.runID,
				"inflight", state.inflight,
				"reason", runCtx.Err().Error())
		}
	}

	return s.terminate(runCtx, state, aborted, timeout)
}

func (s *Scheduler) dispatch(ctx context.Context, state *runState, ref string, completions chan<- completion) {
	state.status[ref] = workflow.StatusRunning
	state.inflight++

	action, _ := s.definition.Action(ref)
	inv := runner.Invocation{
		Ref:         ref,
		TriggeredBy: state.triggeredBy[ref],
		Failure:     state.failures[ref],
		Results:     state.resultsFor(action),
	}
	go func() {
		completions <- completion{ref: ref, outcome: s.runner.RunAction(ctx, inv)}
	}()
}

// applyOutcome records an action's terminal outcome and fans it out
func (s *Scheduler) applyOutcome(ctx context.Context, state *runState, ref string, outcome workflow.ActionOutcome) {
	state.status[ref] = outcome.Status
	switch outcome.Status {
	case workflow.StatusCompleted:
		// Single-assign; downstream reads start only after this write
		state.results[ref] = outcome.Output
	case workflow.StatusFailed:
		state.anyFailure = true
		msg := "action failed"
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		state.failureMsgs = append(state.failureMsgs, fmt.Sprintf("[%s] %s", ref, msg))
	}
	s.edgeFanout(ctx, state, ref, outcome)
}

// edgeFanout converts a parent outcome into per-edge settlements on its
// children
func (s *Scheduler) edgeFanout(ctx context.Context, state *runState, parentRef string, outcome workflow.ActionOutcome) {
	for _, edge := range s.definition.OutgoingEdges(parentRef) {
		var settlement edgeSettlement
		viaError := false
		switch outcome.Status {
		case workflow.StatusCompleted:
			if edge.Kind == workflow.EdgeError {
				settlement = edgeCancelled
			} else if successEdgeActive(edge, outcome.ActiveOutputPorts) {
				settlement = edgeSatisfied
			} else {
				settlement = edgeCancelled
			}
		case workflow.StatusFailed:
			if edge.Kind == workflow.EdgeError {
				settlement = edgeSatisfied
				viaError = true
			} else {
				settlement = edgeFailed
			}
		default: // skipped
			settlement = edgeCancelled
		}
		s.settleEdge(ctx, state, edge, settlement, viaError, outcome)
	}
}

// successEdgeActive reports whether a success edge fires for a completed
// parent: handle-less and self edges always fire; handle edges fire unless
// the component constrained its active ports to a subset excluding them
func successEdgeActive(edge workflow.Edge, activePorts []string) bool {
	if edge.SourceHandle == "" || edge.SourceHandle == workflow.SelfHandle {
		return true
	}
	if activePorts == nil {
		return true
	}
	for _, port := range activePorts {
		if port == edge.SourceHandle {
			return true
		}
	}
	return false
}

func (s *Scheduler) settleEdge(ctx context.Context, state *runState, edge workflow.Edge, settlement edgeSettlement, viaError bool, parentOutcome workflow.ActionOutcome) {
	child := edge.TargetRef
	edgeStatus := state.parentStatus[child]
	if edgeStatus == nil {
		edgeStatus = make(map[string]edgeSettlement)
		state.parentStatus[child] = edgeStatus
	}
	if _, settled := edgeStatus[edge.ID]; settled {
		return
	}
	edgeStatus[edge.ID] = settlement
	if state.remaining[child] > 0 {
		state.remaining[child]--
	}

	if settlement == edgeSatisfied {
		if _, has := state.firstSatisfier[child]; !has {
			state.firstSatisfier[child] = edge.SourceRef
		}
		if viaError {
			state.errorSatisfied[child] = true
			if state.failures[child] == nil {
				state.failures[child] = &component.Failure{
					At:     edge.SourceRef,
					Reason: failureReason(parentOutcome.Err),
				}
			}
		}
	}

	s.evaluateJoin(ctx, state, child)
}

// evaluateJoin decides whether a child becomes ready or skipped after an
// inbound edge settles. Pure over the child's join strategy and settlements;
// children already queued, running, or terminal are left alone.
func (s *Scheduler) evaluateJoin(ctx context.Context, state *runState, child string) {
	if state.status[child] != workflow.StatusPending || state.queued[child] {
		return
	}

	var satisfied, failed int
	for _, settled := range state.parentStatus[child] {
		switch settled {
		case edgeSatisfied:
			satisfied++
		case edgeFailed:
			failed++
		}
	}
	allSettled := state.remaining[child] == 0

	switch s.definition.Node(child).Join() {
	case workflow.JoinAny, workflow.JoinFirst:
		if satisfied >= 1 {
			s.markReady(state, child, state.firstSatisfier[child])
			return
		}
		if allSettled {
			s.markSkipped(ctx, state, child, "no inbound edge satisfied")
		}
	default: // all
		if !allSettled {
			return
		}
		switch {
		case failed == 0 && satisfied >= 1:
			s.markReady(state, child, allJoinTrigger(satisfied, state.firstSatisfier[child]))
		case failed > 0 && state.errorSatisfied[child]:
			// An error-edge path satisfied the join despite the failure
			s.markReady(state, child, allJoinTrigger(satisfied, state.firstSatisfier[child]))
		default:
			s.markSkipped(ctx, state, child, "upstream failure or all inbound edges cancelled")
		}
	}
}

// allJoinTrigger names a trigger for an all-join only when a single inbound
// edge was satisfied; multi-parent joins report none
func allJoinTrigger(satisfied int, first string) string {
	if satisfied == 1 {
		return first
	}
	return ""
}

func (s *Scheduler) markReady(state *runState, child, triggeredBy string) {
	state.triggeredBy[child] = triggeredBy
	state.queued[child] = true
	state.ready = append(state.ready, child)
}

func (s *Scheduler) markSkipped(ctx context.Context, state *runState, child, reason string) {
	state.status[child] = workflow.StatusSkipped
	s.sequencer.Record(ctx, trace.Event{
		RunID:   s.runID,
		NodeRef: child,
		Type:    trace.NodeSkipped,
		Level:   trace.LevelInfo,
		Message: "node skipped",
		Data:    map[string]interface{}{"reason": reason},
	})
	s.log.Debug("node skipped", "run_id", s.runID, "node_ref", child, "reason", reason)

	// Skips cascade: every outgoing edge is cancelled
	s.edgeFanout(ctx, state, child, workflow.ActionOutcome{Status: workflow.StatusSkipped})
}

// failureReason shapes upstream failure metadata for an error-edge child
func failureReason(err error) map[string]interface{} {
	if err == nil {
		return map[string]interface{}{"message": "action failed"}
	}
	var validation *wferrors.ValidationError
	if errors.As(err, &validation) {
		return map[string]interface{}{
			"message": validation.Message,
			"name":    wferrors.Name(err),
		}
	}
	return map[string]interface{}{
		"message": err.Error(),
		"name":    wferrors.Name(err),
	}
}

// terminate computes the final run result once nothing is pending or running
func (s *Scheduler) terminate(ctx context.Context, state *runState, aborted bool, timeout time.Duration) (*workflow.RunResult, error) {
	if !aborted {
		var stuck []string
		for _, action := range s.definition.Actions {
			if state.status[action.Ref] == workflow.StatusPending && !state.queued[action.Ref] {
				stuck = append(stuck, action.Ref)
			}
		}
		if len(stuck) > 0 {
			err := wferrors.NewDeadlockError(s.runID, stuck)
			s.log.Error("run deadlocked", "run_id", s.runID, "stuck", strings.Join(stuck, ","))
			return &workflow.RunResult{
				Outputs: state.results,
				Success: false,
				Error:   err.Error(),
			}, err
		}
	}

	msgs := append([]string(nil), state.failureMsgs...)
	for ref, output := range state.results {
		if msg, soft := softFailure(output); soft {
			msgs = append(msgs, fmt.Sprintf("[%s] %s", ref, msg))
			state.anyFailure = true
		}
	}
	sort.Strings(msgs)

	if aborted {
		state.anyFailure = true
		reason := "run cancelled"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = wferrors.NewTimeoutError("run timed out", timeout).Error()
		}
		msgs = append([]string{reason}, msgs...)
	}

	result := &workflow.RunResult{
		Outputs: state.results,
		Success: !state.anyFailure,
	}
	if len(msgs) > 0 {
		result.Error = strings.Join(msgs, "; ")
	}

	s.log.Info("run finished",
		"run_id", s.runID,
		"success", result.Success,
		"completed", len(state.results))
	return result, nil
}

// softFailure detects outputs of the shape {success:false, error:...}:
// components reporting a failure inside their declared contract. Routing
// treats these as completions, but the run flips to failed at termination.
func softFailure(output map[string]interface{}) (string, bool) {
	success, hasSuccess := output["success"].(bool)
	if !hasSuccess || success {
		return "", false
	}
	rawErr, hasErr := output["error"]
	if !hasErr {
		return "", false
	}
	switch e := rawErr.(type) {
	case string:
		return e, true
	case map[string]interface{}:
		if msg, ok := e["message"].(string); ok {
			return msg, true
		}
		return fmt.Sprintf("%v", e), true
	default:
		return fmt.Sprintf("%v", e), true
	}
}
