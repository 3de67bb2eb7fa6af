package components

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/engine/component"
	"github.com/fmzchao/studio/engine/logs"
	"github.com/fmzchao/studio/engine/wferrors"
	"github.com/fmzchao/studio/engine/workflow"
)

func execute(t *testing.T, c component.Component, inputs, params map[string]interface{}, ec *component.ExecutionContext) (map[string]interface{}, error) {
	t.Helper()
	if ec == nil {
		ec = &component.ExecutionContext{RunID: "run-test", ComponentRef: "node"}
	}
	return c.Execute(context.Background(), component.Args{Inputs: inputs, Params: params}, ec)
}

// TestRegisterBuiltins verifies the built-in set registers and is
// discoverable by id
func TestRegisterBuiltins(t *testing.T) {
	reg := component.NewRegistry(logger.Discard())
	require.NoError(t, RegisterBuiltins(reg))

	for _, id := range []string{
		workflow.EntrypointComponentID,
		"core.util.echo",
		"core.console.log",
		"core.util.delay",
		"core.logic.condition",
		"core.data.patch",
		"core.input.approval",
	} {
		_, ok := reg.Get(id)
		assert.True(t, ok, "component %s not registered", id)
	}

	err := reg.Register(Echo())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

// TestEvaluator_DollarPathRewrite verifies $.field resolves against the
// node output and programs are cached per expression
func TestEvaluator_DollarPathRewrite(t *testing.T) {
	e := NewEvaluator()

	result, err := e.Evaluate("$.score > 5", map[string]interface{}{"score": 7}, nil)
	require.NoError(t, err)
	assert.True(t, result)

	result, err = e.Evaluate("$.score > 5", map[string]interface{}{"score": 3}, nil)
	require.NoError(t, err)
	assert.False(t, result)

	assert.Equal(t, 1, e.CacheSize())
}

// TestEvaluator_RunContext verifies expressions can reach the run context
// through ctx
func TestEvaluator_RunContext(t *testing.T) {
	e := NewEvaluator()
	result, err := e.Evaluate(`ctx.runId == "run-1"`, nil, map[string]interface{}{"runId": "run-1"})
	require.NoError(t, err)
	assert.True(t, result)
	assert.Equal(t, 1, e.CacheSize())
}

// TestEvaluator_NonBooleanResult verifies non-boolean expressions are
// rejected at evaluation time
func TestEvaluator_NonBooleanResult(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate("$.score", map[string]interface{}{"score": 7}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not return boolean")
}

// TestEvaluator_CompileError verifies malformed expressions fail compile
func TestEvaluator_CompileError(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate("$.score >", map[string]interface{}{"score": 7}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compilation")
	assert.Equal(t, 0, e.CacheSize())
}

// TestCondition_RoutesPorts verifies the boolean result selects the true
// or false output port
func TestCondition_RoutesPorts(t *testing.T) {
	cond := Condition(NewEvaluator())

	out, err := execute(t, cond, map[string]interface{}{"value": 7}, map[string]interface{}{
		"expression": "$.value > 5",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["result"])
	assert.Equal(t, []string{"true"}, component.ActivePorts(out))

	out, err = execute(t, cond, map[string]interface{}{"value": 3}, map[string]interface{}{
		"expression": "$.value > 5",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out["result"])
	assert.Equal(t, []string{"false"}, component.ActivePorts(out))
}

// TestCondition_MissingExpression verifies the required param is enforced
func TestCondition_MissingExpression(t *testing.T) {
	cond := Condition(NewEvaluator())
	_, err := execute(t, cond, nil, nil, nil)
	var verr *wferrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.FieldErrors, "expression")
}

// TestCondition_EvaluationFailure verifies evaluator errors surface as
// validation failures naming the expression
func TestCondition_EvaluationFailure(t *testing.T) {
	cond := Condition(NewEvaluator())
	_, err := execute(t, cond, nil, map[string]interface{}{"expression": "$.value >"}, nil)
	var verr *wferrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "evaluation failed")
}

// TestEcho_CopiesInputs verifies echo returns an independent copy
func TestEcho_CopiesInputs(t *testing.T) {
	inputs := map[string]interface{}{"a": 1, "b": "two"}
	out, err := execute(t, Echo(), inputs, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, inputs, out)

	out["c"] = 3
	_, leaked := inputs["c"]
	assert.False(t, leaked)
}

// TestPatch_Operations verifies RFC 6902 patch application
func TestPatch_Operations(t *testing.T) {
	out, err := execute(t, Patch(), map[string]interface{}{
		"document": map[string]interface{}{"name": "draft", "tags": []interface{}{"x"}},
		"patch": []interface{}{
			map[string]interface{}{"op": "replace", "path": "/name", "value": "final"},
			map[string]interface{}{"op": "add", "path": "/tags/-", "value": "y"},
		},
	}, nil, nil)
	require.NoError(t, err)

	result, ok := out["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "final", result["name"])
	assert.Equal(t, []interface{}{"x", "y"}, result["tags"])
}

// TestPatch_MergeMode verifies RFC 7386 merge patch, including null
// deletion
func TestPatch_MergeMode(t *testing.T) {
	out, err := execute(t, Patch(), map[string]interface{}{
		"document": map[string]interface{}{"a": 1, "b": 2},
		"patch":    map[string]interface{}{"b": nil, "c": 3},
	}, map[string]interface{}{"mode": "merge"}, nil)
	require.NoError(t, err)

	result, ok := out["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), result["a"])
	assert.Equal(t, float64(3), result["c"])
	_, deleted := result["b"]
	assert.False(t, deleted)
}

// TestPatch_UnknownMode verifies unsupported modes are rejected
func TestPatch_UnknownMode(t *testing.T) {
	_, err := execute(t, Patch(), map[string]interface{}{
		"document": map[string]interface{}{},
		"patch":    map[string]interface{}{},
	}, map[string]interface{}{"mode": "diff"}, nil)
	var verr *wferrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.FieldErrors["mode"], "diff")
}

// TestPatch_MalformedPatch verifies a non-array document in patch mode
// fails decoding
func TestPatch_MalformedPatch(t *testing.T) {
	_, err := execute(t, Patch(), map[string]interface{}{
		"document": map[string]interface{}{},
		"patch":    map[string]interface{}{"not": "operations"},
	}, nil, nil)
	var verr *wferrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "decode patch")
}

// TestDelay_SleepsAndPassesThrough verifies the pause and the passthrough
func TestDelay_SleepsAndPassesThrough(t *testing.T) {
	start := time.Now()
	out, err := execute(t, Delay(), map[string]interface{}{"v": "keep"}, map[string]interface{}{
		"durationMs": float64(20),
	}, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, "keep", out["v"])
	assert.Equal(t, float64(20), out["delayedMs"])
}

// TestDelay_ContextCancelled verifies cancellation interrupts the sleep
func TestDelay_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := Delay().Execute(ctx, component.Args{
		Params: map[string]interface{}{"durationMs": float64(5000)},
	}, &component.ExecutionContext{RunID: "run-test", ComponentRef: "sleep"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

// TestConsoleLog_WritesCollector verifies entries land in the collector
// and the message falls back to JSON when no message input exists
func TestConsoleLog_WritesCollector(t *testing.T) {
	sink := logs.NewMemorySink()
	collector := logs.NewCollector("run-1", "log", sink, logger.Discard())
	ec := &component.ExecutionContext{RunID: "run-1", ComponentRef: "log", LogCollector: collector}

	out, err := execute(t, ConsoleLog(), map[string]interface{}{"message": "hello"}, map[string]interface{}{
		"level": "warn",
	}, ec)
	require.NoError(t, err)
	assert.Equal(t, true, out["logged"])
	assert.Equal(t, "hello", out["message"])

	entries := collector.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, logs.StreamConsole, entries[0].Stream)
	assert.Equal(t, "warn", entries[0].Level)
	assert.Equal(t, "hello", entries[0].Message)

	out, err = execute(t, ConsoleLog(), map[string]interface{}{"count": 2}, nil, ec)
	require.NoError(t, err)
	assert.Equal(t, `{"count":2}`, out["message"])
	entries = collector.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "info", entries[1].Level)
}

// TestApproval_EmitsSentinel verifies the awaiting-input sentinel shape
func TestApproval_EmitsSentinel(t *testing.T) {
	out, err := execute(t, Approval(), map[string]interface{}{"env": "prod"}, map[string]interface{}{
		"title":          "Deploy?",
		"description":    "prod rollout",
		"timeoutSeconds": float64(60),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, true, out["pending"])
	assert.Equal(t, "approval", out["inputType"])
	assert.Equal(t, "Deploy?", out["title"])
	assert.Equal(t, "prod rollout", out["description"])
	assert.Equal(t, map[string]interface{}{"env": "prod"}, out["contextData"])

	deadline, err := time.Parse(time.RFC3339, out["timeoutAt"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

// TestApproval_RequiresTitle verifies the title param is mandatory
func TestApproval_RequiresTitle(t *testing.T) {
	_, err := execute(t, Approval(), nil, nil, nil)
	var verr *wferrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.FieldErrors, "title")
}

// TestEntrypoint_RuntimeDataWins verifies run inputs overlay design-time
// values and the reserved key never leaks downstream
func TestEntrypoint_RuntimeDataWins(t *testing.T) {
	out, err := execute(t, Entrypoint(), map[string]interface{}{
		"region": "design-time",
		"tier":   "free",
		workflow.RuntimeDataKey: map[string]interface{}{
			"region": "eu-west-1",
			"user":   "ada",
		},
	}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", out["region"])
	assert.Equal(t, "free", out["tier"])
	assert.Equal(t, "ada", out["user"])
	_, leaked := out[workflow.RuntimeDataKey]
	assert.False(t, leaked)
}
