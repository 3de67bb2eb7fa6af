package engine

import (
	"context"
	"fmt"

	"github.com/fmzchao/studio/common/cache"
	"github.com/fmzchao/studio/common/config"
	"github.com/fmzchao/studio/common/db"
	"github.com/fmzchao/studio/common/logger"
	"github.com/fmzchao/studio/common/queue"
	commonredis "github.com/fmzchao/studio/common/redis"
	"github.com/fmzchao/studio/engine/component"
	"github.com/fmzchao/studio/engine/components"
	"github.com/fmzchao/studio/engine/inputs"
	"github.com/fmzchao/studio/engine/logs"
	"github.com/fmzchao/studio/engine/nodeio"
	"github.com/fmzchao/studio/engine/secrets"
	"github.com/fmzchao/studio/engine/storage"
	"github.com/fmzchao/studio/engine/trace"
)

// Option configures Setup
type Option func(*setupOptions)

type setupOptions struct {
	skipDB          bool
	skipRedis       bool
	skipBuiltins    bool
	customConfig    *config.Config
	customLogger    *logger.Logger
	secretsProvider secrets.Provider
	extraComponents []component.Component
}

// WithoutDB skips database initialization even when config selects the
// postgres trace sink
func WithoutDB() Option {
	return func(o *setupOptions) { o.skipDB = true }
}

// WithoutRedis skips redis initialization even when config selects redis
// adapters
func WithoutRedis() Option {
	return func(o *setupOptions) { o.skipRedis = true }
}

// WithoutBuiltins skips built-in component registration
func WithoutBuiltins() Option {
	return func(o *setupOptions) { o.skipBuiltins = true }
}

// WithCustomConfig uses a prepared config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *setupOptions) { o.customConfig = cfg }
}

// WithCustomLogger uses a prepared logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *setupOptions) { o.customLogger = log }
}

// WithSecrets wires a secret provider into execution contexts
func WithSecrets(provider secrets.Provider) Option {
	return func(o *setupOptions) { o.secretsProvider = provider }
}

// WithComponents registers additional components after the builtins
func WithComponents(comps ...component.Component) Option {
	return func(o *setupOptions) { o.extraComponents = append(o.extraComponents, comps...) }
}

// Components holds the assembled engine and its infrastructure dependencies
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB
	Redis     *commonredis.Client
	Queue     queue.Queue
	Cache     cache.Cache
	Registry  *component.Registry
	Broker    *inputs.Broker
	Sequencer *trace.Sequencer
	Engine    *Engine

	cleanupFuncs []func() error
}

// Setup assembles an engine from environment configuration, choosing memory,
// redis, or postgres adapters per config. The returned Components must be
// shut down with Shutdown.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := &setupOptions{}
	for _, opt := range opts {
		opt(options)
	}

	c := &Components{}

	// 1. Configuration
	var err error
	if options.customConfig != nil {
		c.Config = options.customConfig
	} else {
		c.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Logger
	if options.customLogger != nil {
		c.Logger = options.customLogger
	} else {
		c.Logger = logger.New(c.Config.Service.LogLevel, c.Config.Service.LogFormat)
	}
	c.Logger.Info("initializing engine",
		"service", serviceName,
		"environment", c.Config.Service.Environment,
		"trace_sink", c.Config.Engine.TraceSink,
		"blob_store", c.Config.Engine.BlobStore)

	// 3. Database, only when the postgres trace sink is selected
	if c.Config.Engine.TraceSink == "postgres" && !options.skipDB {
		c.Logger.Info("connecting to database")
		c.DB, err = db.New(ctx, c.Config, c.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.addCleanup(func() error {
			c.Logger.Info("closing database connection")
			c.DB.Close()
			return nil
		})
	}

	// 4. Redis, when any redis adapter is selected
	needsRedis := c.Config.Engine.TraceSink == "redis" || c.Config.Engine.BlobStore == "redis"
	if needsRedis && !options.skipRedis {
		c.Logger.Info("connecting to redis")
		c.Redis, err = commonredis.Connect(ctx, &c.Config.Redis, c.Logger)
		if err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.addCleanup(func() error {
			c.Logger.Info("closing redis connection")
			return c.Redis.Close()
		})
	}

	// 5. In-process queue for best-effort async sink delivery
	c.Queue = queue.NewMemoryQueue(c.Logger, c.Config.Queue.BufferSize)
	c.addCleanup(func() error {
		c.Logger.Info("closing queue")
		return c.Queue.Close()
	})

	// 6. Cache for per-run secret lookups
	if c.Config.Cache.Enabled {
		c.Cache = cache.NewMemoryCache(c.Logger)
		c.addCleanup(func() error {
			c.Logger.Info("closing cache")
			return c.Cache.Close()
		})
	}

	// 7. Blob store for spilled payloads
	var store storage.Store
	switch {
	case c.Config.Engine.BlobStore == "redis" && c.Redis != nil:
		store = storage.NewRedisStore(storage.RedisStoreOpts{Client: c.Redis})
	default:
		store = storage.NewMemoryStore(c.Logger)
	}

	// 8. Trace and node-I/O sinks
	var traceSink trace.Sink
	var nodeIOSink nodeio.Sink
	switch {
	case c.Config.Engine.TraceSink == "postgres" && c.DB != nil:
		pgTrace := trace.NewPostgresSink(c.DB)
		if err := pgTrace.EnsureSchema(ctx); err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("failed to ensure trace schema: %w", err)
		}
		pgNodeIO := nodeio.NewPostgresSink(c.DB)
		if err := pgNodeIO.EnsureSchema(ctx); err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("failed to ensure node-I/O schema: %w", err)
		}
		traceSink = pgTrace
		nodeIOSink = pgNodeIO
	case c.Config.Engine.TraceSink == "redis" && c.Redis != nil:
		traceSink = trace.NewRedisStreamSink(trace.RedisStreamSinkOpts{Client: c.Redis})
		nodeIOSink = nodeio.NewQueueSink(c.Queue, "")
	default:
		traceSink = trace.NewQueueSink(c.Queue, "")
		nodeIOSink = nodeio.NewQueueSink(c.Queue, "")
	}

	// 9. Components
	c.Registry = component.NewRegistry(c.Logger)
	if !options.skipBuiltins {
		if err := components.RegisterBuiltins(c.Registry); err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("failed to register builtin components: %w", err)
		}
	}
	for _, comp := range options.extraComponents {
		if err := c.Registry.Register(comp); err != nil {
			c.Shutdown(ctx)
			return nil, fmt.Errorf("failed to register component: %w", err)
		}
	}

	// 10. Engine
	c.Sequencer = trace.NewSequencer(traceSink, c.Logger)
	c.Broker = inputs.NewBroker(c.Logger)
	c.Engine = New(Opts{
		Registry:  c.Registry,
		Sequencer: c.Sequencer,
		NodeIO: nodeio.NewRecorder(nodeio.RecorderOpts{
			Sink:           nodeIOSink,
			Store:          store,
			EventSizeLimit: c.Config.Engine.EventSizeLimit,
			TruncateLimit:  c.Config.Engine.TruncateLimit,
			Logger:         c.Logger,
		}),
		Store:          store,
		Secrets:        options.secretsProvider,
		Broker:         c.Broker,
		LogSink:        logs.NewQueueSink(c.Queue, ""),
		Cache:          c.Cache,
		Redis:          c.Redis,
		Logger:         c.Logger,
		MaxConcurrency: c.Config.Engine.MaxConcurrency,
		SpillThreshold: c.Config.Engine.SpillThreshold,
	})

	c.Logger.Info("engine initialization complete",
		"service", serviceName,
		"db", c.DB != nil,
		"redis", c.Redis != nil,
		"cache", c.Cache != nil,
		"components", len(c.Registry.List()))
	return c, nil
}

// MustSetup is like Setup but panics on error
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	c, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to set up engine %s: %v", serviceName, err))
	}
	return c
}

// Shutdown releases infrastructure in reverse initialization order
func (c *Components) Shutdown(ctx context.Context) error {
	if c.Logger != nil {
		c.Logger.Info("shutting down engine components")
	}

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// Health checks the liveness of attached infrastructure
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	return nil
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
