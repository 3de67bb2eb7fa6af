// Package engine ties the scheduler core together behind a façade:
// register components once, then execute workflow definitions as isolated
// runs with their own trace sequence, results map, and input broker state.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fmzchao/studio/common/cache"
	"github.com/fmzchao/studio/common/logger"
	commonredis "github.com/fmzchao/studio/common/redis"
	"github.com/fmzchao/studio/engine/component"
	"github.com/fmzchao/studio/engine/inputs"
	"github.com/fmzchao/studio/engine/logs"
	"github.com/fmzchao/studio/engine/nodeio"
	"github.com/fmzchao/studio/engine/resolver"
	"github.com/fmzchao/studio/engine/runner"
	"github.com/fmzchao/studio/engine/scheduler"
	"github.com/fmzchao/studio/engine/secrets"
	"github.com/fmzchao/studio/engine/spill"
	"github.com/fmzchao/studio/engine/storage"
	"github.com/fmzchao/studio/engine/trace"
	"github.com/fmzchao/studio/engine/wferrors"
	"github.com/fmzchao/studio/engine/workflow"
)

const (
	// runLatchTTL bounds the idempotent-start latch on a run id
	runLatchTTL = 24 * time.Hour
	// secretTTL is how long per-run secret lookups stay cached
	secretTTL = 5 * time.Minute
	// runLatchPrefix keys the start latch in redis
	runLatchPrefix = "studio:run:"
)

// Opts assembles an engine. Registry, Sequencer, NodeIO, Store, and Logger
// are required; everything else degrades to an in-process default.
type Opts struct {
	Registry       *component.Registry
	Sequencer      *trace.Sequencer
	NodeIO         *nodeio.Recorder
	Store          storage.Store
	Artifacts      storage.Store
	Secrets        secrets.Provider
	Broker         *inputs.Broker
	LogSink        logs.Sink
	Cache          cache.Cache
	Redis          *commonredis.Client
	Logger         *logger.Logger
	MaxConcurrency int
	SpillThreshold int
}

// Engine executes workflow definitions. Safe for concurrent use; each call
// to Execute owns its run's state.
type Engine struct {
	registry       *component.Registry
	sequencer      *trace.Sequencer
	nodeIO         *nodeio.Recorder
	store          storage.Store
	artifacts      storage.Store
	secrets        secrets.Provider
	broker         *inputs.Broker
	logSink        logs.Sink
	cache          cache.Cache
	redis          *commonredis.Client
	log            *logger.Logger
	maxConcurrency int

	resolver *resolver.Resolver
	spiller  *spill.Spiller
}

// New creates an engine from its assembled dependencies
func New(opts Opts) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Broker == nil {
		opts.Broker = inputs.NewBroker(opts.Logger)
	}
	if opts.Artifacts == nil {
		opts.Artifacts = opts.Store
	}
	if opts.LogSink == nil {
		opts.LogSink = logs.NewMemorySink()
	}
	threshold := opts.SpillThreshold
	if threshold <= 0 {
		threshold = spill.DefaultThreshold
	}
	return &Engine{
		registry:       opts.Registry,
		sequencer:      opts.Sequencer,
		nodeIO:         opts.NodeIO,
		store:          opts.Store,
		artifacts:      opts.Artifacts,
		secrets:        opts.Secrets,
		broker:         opts.Broker,
		logSink:        opts.LogSink,
		cache:          opts.Cache,
		redis:          opts.Redis,
		log:            opts.Logger,
		maxConcurrency: opts.MaxConcurrency,
		resolver:       resolver.New(opts.Logger),
		spiller:        spill.NewSpiller(opts.Store, threshold, opts.Logger),
	}
}

// Broker returns the input broker; external resolvers deliver awaiting-input
// responses through it
func (e *Engine) Broker() *inputs.Broker {
	return e.broker
}

// Registry returns the component registry
func (e *Engine) Registry() *component.Registry {
	return e.registry
}

// Execute validates and runs one workflow definition to termination. The
// returned error covers request validation and scheduler-level faults;
// per-action failures surface in RunResult.Success and RunResult.Error.
func (e *Engine) Execute(ctx context.Context, req workflow.RunRequest) (*workflow.RunResult, error) {
	if req.Definition == nil {
		return nil, wferrors.NewValidationError("run request has no definition", nil)
	}
	if err := req.Definition.Validate(); err != nil {
		e.log.Error("definition rejected",
			"run_id", req.RunID,
			"workflow_id", req.WorkflowID,
			"error", err.Error())
		return nil, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	if req.Inputs == nil {
		req.Inputs = make(map[string]interface{})
	}

	// Start latch: a concurrent duplicate of the same run id is rejected
	if e.redis != nil {
		acquired, err := e.redis.SetNX(ctx, runLatchPrefix+runID, []byte("1"), runLatchTTL)
		if err != nil {
			return nil, wferrors.NewServiceError("redis", "failed to acquire run latch", err)
		}
		if !acquired {
			return nil, fmt.Errorf("run already in progress: %s", runID)
		}
		defer func() {
			_ = e.redis.Delete(context.Background(), runLatchPrefix+runID)
		}()
	}

	e.sequencer.SetRunMetadata(runID, trace.RunMetadata{
		WorkflowID:     req.WorkflowID,
		OrganizationID: req.OrganizationID,
	})
	defer e.sequencer.FinalizeRun(runID)

	provider := e.secrets
	if provider != nil && e.cache != nil {
		provider = secrets.NewCached(provider, e.cache, runID, secretTTL)
		defer e.clearSecretCache(runID)
	}

	run := runner.New(runner.Opts{
		Definition:    req.Definition,
		Registry:      e.registry,
		Resolver:      e.resolver,
		Sequencer:     e.sequencer,
		NodeIO:        e.nodeIO,
		Spiller:       e.spiller,
		Store:         e.store,
		Artifacts:     e.artifacts,
		Secrets:       provider,
		Broker:        e.broker,
		LogSink:       e.logSink,
		Logger:        e.log,
		RunID:         runID,
		WorkflowID:    req.WorkflowID,
		RuntimeInputs: req.Inputs,
	})
	sched := scheduler.New(scheduler.Opts{
		Definition:     req.Definition,
		Runner:         run,
		Sequencer:      e.sequencer,
		Logger:         e.log,
		RunID:          runID,
		MaxConcurrency: e.maxConcurrency,
	})

	e.log.Info("executing workflow",
		"run_id", runID,
		"workflow_id", req.WorkflowID,
		"title", req.Definition.Title,
		"depth", req.Depth)
	return sched.Run(ctx)
}

// clearSecretCache drops per-run secret cache entries at run teardown
func (e *Engine) clearSecretCache(runID string) {
	type prefixDeleter interface {
		DeletePrefix(ctx context.Context, prefix string) int
	}
	if pd, ok := e.cache.(prefixDeleter); ok {
		pd.DeletePrefix(context.Background(), "secrets:"+runID+":")
	}
}
