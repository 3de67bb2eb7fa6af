package inputs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/engine/wferrors"
)

// TestParseSentinel_FullShape verifies all sentinel fields decode
func TestParseSentinel_FullShape(t *testing.T) {
	deadline := time.Now().Add(time.Hour).Truncate(time.Second)
	output := map[string]interface{}{
		"pending":     true,
		"inputType":   "approval",
		"title":       "Deploy to production?",
		"description": "Requires a second pair of eyes",
		"contextData": map[string]interface{}{"env": "prod"},
		"inputSchema": map[string]interface{}{"type": "object"},
		"timeoutAt":   deadline,
	}

	s, ok := ParseSentinel(output)
	require.True(t, ok)
	assert.Equal(t, "approval", s.InputType)
	assert.Equal(t, "Deploy to production?", s.Title)
	assert.Equal(t, "Requires a second pair of eyes", s.Description)
	assert.Equal(t, "prod", s.ContextData["env"])
	assert.Equal(t, "object", s.InputSchema["type"])
	require.NotNil(t, s.TimeoutAt)
	assert.True(t, s.TimeoutAt.Equal(deadline))
}

// TestParseSentinel_TimeoutAtString verifies RFC3339 strings parse and
// garbage is ignored
func TestParseSentinel_TimeoutAtString(t *testing.T) {
	s, ok := ParseSentinel(map[string]interface{}{
		"pending":   true,
		"timeoutAt": "2026-08-24T12:00:00Z",
	})
	require.True(t, ok)
	require.NotNil(t, s.TimeoutAt)
	assert.Equal(t, 2026, s.TimeoutAt.Year())

	s, ok = ParseSentinel(map[string]interface{}{
		"pending":   true,
		"timeoutAt": "next tuesday",
	})
	require.True(t, ok)
	assert.Nil(t, s.TimeoutAt)
}

// TestParseSentinel_NotPending verifies ordinary outputs are not mistaken
// for sentinels
func TestParseSentinel_NotPending(t *testing.T) {
	cases := []map[string]interface{}{
		nil,
		{},
		{"pending": false},
		{"pending": "true"},
		{"result": "done"},
	}
	for _, output := range cases {
		_, ok := ParseSentinel(output)
		assert.False(t, ok, "output %v should not parse as sentinel", output)
	}
}

// TestResolution_Output verifies the resume output shape and that response
// data cannot clobber the reserved keys
func TestResolution_Output(t *testing.T) {
	respondedAt := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	r := &Resolution{
		RequestID:    "req-1",
		Approved:     true,
		RespondedBy:  "alice",
		ResponseNote: "ship it",
		RespondedAt:  respondedAt,
		ResponseData: map[string]interface{}{
			"approved": "spoofed",
			"ticket":   "OPS-42",
		},
	}

	out := r.Output()
	assert.Equal(t, true, out["approved"])
	assert.Equal(t, false, out["rejected"])
	assert.Equal(t, "alice", out["respondedBy"])
	assert.Equal(t, "req-1", out["requestId"])
	assert.Equal(t, "ship it", out["responseNote"])
	assert.Equal(t, "2026-08-24T10:30:00Z", out["respondedAt"])
	assert.Equal(t, "OPS-42", out["ticket"])
}

// TestResolution_ActivePorts verifies port derivation for options,
// approval, rejection, and the empty resolution
func TestResolution_ActivePorts(t *testing.T) {
	r := &Resolution{SelectedOptions: []string{"blue", "green"}}
	assert.Equal(t, []string{"option:blue", "option:green"}, r.ActivePorts())

	r = &Resolution{Approved: true}
	assert.Equal(t, []string{"approved"}, r.ActivePorts())

	r = &Resolution{Rejected: true}
	assert.Equal(t, []string{"rejected"}, r.ActivePorts())

	r = &Resolution{}
	assert.Nil(t, r.ActivePorts())
}

// TestBroker_CreateAssignsID verifies id and timestamp defaults
func TestBroker_CreateAssignsID(t *testing.T) {
	b := NewBroker(logger.Discard())
	req, err := b.Create(context.Background(), Request{
		RunID:   "run-1",
		NodeRef: "gate",
	})
	require.NoError(t, err)
	assert.Len(t, req.ID, 36)
	assert.False(t, req.CreatedAt.IsZero())

	pending := b.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)
}

// TestBroker_DuplicateCreate verifies a pending id cannot be reused
func TestBroker_DuplicateCreate(t *testing.T) {
	b := NewBroker(logger.Discard())
	_, err := b.Create(context.Background(), Request{ID: "req-dup"})
	require.NoError(t, err)
	_, err = b.Create(context.Background(), Request{ID: "req-dup"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already pending")
}

// TestBroker_ResolveThenAwait verifies the resolution is buffered, so
// delivery does not depend on the awaiter already blocking
func TestBroker_ResolveThenAwait(t *testing.T) {
	b := NewBroker(logger.Discard())
	req, err := b.Create(context.Background(), Request{RunID: "run-1", NodeRef: "gate"})
	require.NoError(t, err)

	err = b.Resolve(context.Background(), req.ID, Resolution{
		Approved:    true,
		RespondedBy: "alice",
	})
	require.NoError(t, err)

	resolution, err := b.Await(context.Background(), req.ID)
	require.NoError(t, err)
	assert.True(t, resolution.Approved)
	assert.Equal(t, "alice", resolution.RespondedBy)
	assert.Equal(t, req.ID, resolution.RequestID)
	assert.False(t, resolution.RespondedAt.IsZero())

	assert.Empty(t, b.Pending())
}

// TestBroker_AwaitThenResolve verifies the blocking path with a concurrent
// resolver
func TestBroker_AwaitThenResolve(t *testing.T) {
	b := NewBroker(logger.Discard())
	req, err := b.Create(context.Background(), Request{RunID: "run-1", NodeRef: "gate"})
	require.NoError(t, err)

	type outcome struct {
		resolution *Resolution
		err        error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := b.Await(context.Background(), req.ID)
		done <- outcome{res, err}
	}()

	require.NoError(t, b.Resolve(context.Background(), req.ID, Resolution{Rejected: true}))

	got := <-done
	require.NoError(t, got.err)
	assert.True(t, got.resolution.Rejected)
}

// TestBroker_DoubleResolve verifies the second resolution is refused
func TestBroker_DoubleResolve(t *testing.T) {
	b := NewBroker(logger.Discard())
	req, err := b.Create(context.Background(), Request{})
	require.NoError(t, err)

	require.NoError(t, b.Resolve(context.Background(), req.ID, Resolution{Approved: true}))
	err = b.Resolve(context.Background(), req.ID, Resolution{Rejected: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already resolved")
}

// TestBroker_AwaitPastDeadline verifies an already-expired request fails
// immediately without blocking
func TestBroker_AwaitPastDeadline(t *testing.T) {
	b := NewBroker(logger.Discard())
	past := time.Now().Add(-time.Second)
	req, err := b.Create(context.Background(), Request{TimeoutAt: &past})
	require.NoError(t, err)

	_, err = b.Await(context.Background(), req.ID)
	var timeoutErr *wferrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Contains(t, err.Error(), "timed out")
	assert.Empty(t, b.Pending())
}

// TestBroker_AwaitTimerExpires verifies the deadline fires while blocked
func TestBroker_AwaitTimerExpires(t *testing.T) {
	b := NewBroker(logger.Discard())
	deadline := time.Now().Add(40 * time.Millisecond)
	req, err := b.Create(context.Background(), Request{TimeoutAt: &deadline})
	require.NoError(t, err)

	_, err = b.Await(context.Background(), req.ID)
	var timeoutErr *wferrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

// TestBroker_AwaitContextCancelled verifies run cancellation unblocks the
// awaiter
func TestBroker_AwaitContextCancelled(t *testing.T) {
	b := NewBroker(logger.Discard())
	req, err := b.Create(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Await(ctx, req.ID)
		done <- err
	}()
	cancel()

	err = <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, b.Pending())
}

// TestBroker_UnknownRequest verifies await and resolve on a missing id
func TestBroker_UnknownRequest(t *testing.T) {
	b := NewBroker(logger.Discard())

	_, err := b.Await(context.Background(), "nope")
	var nf *wferrors.NotFoundError
	require.ErrorAs(t, err, &nf)

	err = b.Resolve(context.Background(), "nope", Resolution{})
	require.True(t, errors.As(err, &nf))
}
