// Package inputs implements the externally-gated pause behind the
// awaiting-input sentinel: a component returns {pending: true, ...}, the
// engine registers an input request, and the action suspends until a
// resolution arrives or its deadline passes.
package inputs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/engine/wferrors"
)

// Sentinel is the decoded awaiting-input return value of a component
type Sentinel struct {
	InputType   string
	Title       string
	Description string
	ContextData map[string]interface{}
	InputSchema map[string]interface{}
	TimeoutAt   *time.Time
}

// ParseSentinel reports whether output is an awaiting-input sentinel and
// decodes it
func ParseSentinel(output map[string]interface{}) (*Sentinel, bool) {
	if output == nil {
		return nil, false
	}
	pending, ok := output["pending"].(bool)
	if !ok || !pending {
		return nil, false
	}

	s := &Sentinel{}
	if v, ok := output["inputType"].(string); ok {
		s.InputType = v
	}
	if v, ok := output["title"].(string); ok {
		s.Title = v
	}
	if v, ok := output["description"].(string); ok {
		s.Description = v
	}
	if v, ok := output["contextData"].(map[string]interface{}); ok {
		s.ContextData = v
	}
	if v, ok := output["inputSchema"].(map[string]interface{}); ok {
		s.InputSchema = v
	}
	switch v := output["timeoutAt"].(type) {
	case time.Time:
		s.TimeoutAt = &v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			s.TimeoutAt = &t
		}
	}
	return s, true
}

// Request is one registered input request
type Request struct {
	ID          string                 `json:"id"`
	RunID       string                 `json:"runId"`
	NodeRef     string                 `json:"nodeRef"`
	InputType   string                 `json:"inputType"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	ContextData map[string]interface{} `json:"contextData,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
	TimeoutAt   *time.Time             `json:"timeoutAt,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Resolution is the externally-delivered answer to a request
type Resolution struct {
	RequestID       string                 `json:"requestId"`
	Approved        bool                   `json:"approved"`
	Rejected        bool                   `json:"rejected"`
	RespondedBy     string                 `json:"respondedBy,omitempty"`
	ResponseNote    string                 `json:"responseNote,omitempty"`
	RespondedAt     time.Time              `json:"respondedAt"`
	ResponseData    map[string]interface{} `json:"responseData,omitempty"`
	SelectedOptions []string               `json:"selectedOptions,omitempty"`
}

// Output builds the completion output the suspended action resumes with
func (r *Resolution) Output() map[string]interface{} {
	out := map[string]interface{}{
		"approved":    r.Approved,
		"rejected":    r.Rejected,
		"respondedBy": r.RespondedBy,
		"requestId":   r.RequestID,
	}
	if r.ResponseNote != "" {
		out["responseNote"] = r.ResponseNote
	}
	if !r.RespondedAt.IsZero() {
		out["respondedAt"] = r.RespondedAt.Format(time.RFC3339)
	}
	for k, v := range r.ResponseData {
		if _, reserved := out[k]; !reserved {
			out[k] = v
		}
	}
	return out
}

// ActivePorts derives which success edges fire from the resolution: one
// option port per selected choice, otherwise the approved/rejected pair
func (r *Resolution) ActivePorts() []string {
	if len(r.SelectedOptions) > 0 {
		ports := make([]string, 0, len(r.SelectedOptions))
		for _, opt := range r.SelectedOptions {
			ports = append(ports, "option:"+opt)
		}
		return ports
	}
	if r.Approved {
		return []string{"approved"}
	}
	if r.Rejected {
		return []string{"rejected"}
	}
	return nil
}

type pendingRequest struct {
	request    Request
	resolution chan Resolution
}

// Broker registers input requests and hands resolutions to the suspended
// actions awaiting them
type Broker struct {
	log *logger.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewBroker creates an empty broker
func NewBroker(log *logger.Logger) *Broker {
	return &Broker{
		log:     log,
		pending: make(map[string]*pendingRequest),
	}
}

// Create registers a request, assigning an id when the caller left it empty
func (b *Broker) Create(ctx context.Context, req Request) (*Request, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.pending[req.ID]; exists {
		return nil, fmt.Errorf("input request already pending: %s", req.ID)
	}
	b.pending[req.ID] = &pendingRequest{
		request:    req,
		resolution: make(chan Resolution, 1),
	}

	b.log.Info("input request created",
		"request_id", req.ID,
		"run_id", req.RunID,
		"node_ref", req.NodeRef,
		"input_type", req.InputType)
	return &req, nil
}

// Await blocks until the request is resolved, its timeout passes, or ctx is
// cancelled. The pending entry is removed on return.
func (b *Broker) Await(ctx context.Context, requestID string) (*Resolution, error) {
	b.mu.Lock()
	entry, ok := b.pending[requestID]
	b.mu.Unlock()
	if !ok {
		return nil, wferrors.NewNotFoundError("input request", requestID)
	}
	defer b.remove(requestID)

	var timeoutCh <-chan time.Time
	if entry.request.TimeoutAt != nil {
		until := time.Until(*entry.request.TimeoutAt)
		if until <= 0 {
			return nil, wferrors.NewTimeoutError(
				fmt.Sprintf("input request %s timed out", requestID), 0)
		}
		timer := time.NewTimer(until)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case resolution := <-entry.resolution:
		b.log.Info("input request resolved",
			"request_id", requestID,
			"approved", resolution.Approved,
			"rejected", resolution.Rejected)
		return &resolution, nil
	case <-timeoutCh:
		return nil, wferrors.NewTimeoutError(
			fmt.Sprintf("input request %s timed out", requestID),
			time.Since(entry.request.CreatedAt).Round(time.Millisecond))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve delivers a resolution to the awaiting action
func (b *Broker) Resolve(ctx context.Context, requestID string, resolution Resolution) error {
	b.mu.Lock()
	entry, ok := b.pending[requestID]
	b.mu.Unlock()
	if !ok {
		return wferrors.NewNotFoundError("input request", requestID)
	}

	resolution.RequestID = requestID
	if resolution.RespondedAt.IsZero() {
		resolution.RespondedAt = time.Now()
	}

	select {
	case entry.resolution <- resolution:
		return nil
	default:
		return fmt.Errorf("input request already resolved: %s", requestID)
	}
}

// Pending returns a snapshot of unresolved requests
func (b *Broker) Pending() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Request, 0, len(b.pending))
	for _, entry := range b.pending {
		out = append(out, entry.request)
	}
	return out
}

func (b *Broker) remove(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, requestID)
}
