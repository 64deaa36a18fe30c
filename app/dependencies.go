package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stellarion/api/cognito"
	"github.com/stellarion/api/config"
	"github.com/stellarion/api/handlers"
	"github.com/stellarion/api/identity"
	"github.com/stellarion/api/internal/gate"
	"github.com/stellarion/api/middleware"
	"github.com/stellarion/api/repositories"
	"github.com/stellarion/api/repositories/memory"
	"github.com/stellarion/api/repositories/postgres"
	rediscache "github.com/stellarion/api/repositories/redis"
	"github.com/stellarion/api/services/mirror"
	"github.com/stellarion/api/services/session"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB // nil without a database
	Redis  *goredis.Client
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Profile storage
	Profiles repositories.ProfileRepository // system of record, nil without a database
	Records  repositories.ProfileReader     // coalesced reads of Profiles
	Cache    repositories.ProfileCache

	// Identity and sessions
	Identity identity.Factory
	Mirror   *mirror.Dispatcher // nil when the mirror sink is none
	Registry *session.Registry
	Gate     *gate.Gate

	// HTTP
	SessionMiddleware *middleware.SessionMiddleware
	AccessMiddleware  *middleware.AccessMiddleware
	HealthHandler     *handlers.HealthHandler
	AuthHandler       *handlers.AuthHandler
	SessionHandler    *handlers.SessionHandler
	AccessHandler     *handlers.AccessHandler
	ProfileAdmin      *handlers.ProfileAdminHandler

	mirrorSink  io.Closer
	stopCleanup chan struct{}
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	// Initialize PostgreSQL (optional)
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize the profile cache
	if err := deps.initCache(ctx, cfg); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize profile cache: %w", err)
	}

	// Initialize the identity backend
	if err := deps.initIdentity(cfg); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize identity backend: %w", err)
	}

	// Initialize the remote profile mirror
	if err := deps.initMirror(cfg); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize profile mirror: %w", err)
	}

	// Initialize sessions and the access gate
	if err := deps.initSessions(cfg); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize sessions: %w", err)
	}

	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("identity_backend", cfg.Identity.Backend),
		zap.String("mirror_sink", cfg.Mirror.Sink),
		zap.Bool("database", deps.DB != nil),
		zap.Bool("redis", deps.Redis != nil))
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection and repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled() {
		d.Logger.Info("no database configured; profiles live in the cache only")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.HealthCheck(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("database health check failed: %w", err)
	}

	d.Profiles = factory.Profiles()
	d.Records = repositories.NewCoalescingReader(d.Profiles)
	return nil
}

// initCache selects Redis when configured, otherwise an in-process cache
func (d *Dependencies) initCache(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis.URL == "" {
		d.Cache = memory.NewProfileCache()
		d.Logger.Info("using in-memory profile cache")
		return nil
	}

	client, err := rediscache.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	d.Redis = client
	d.Cache = rediscache.NewProfileCache(client, cfg.Redis.ProfileTTL, d.Logger)
	d.Logger.Info("using redis profile cache")
	return nil
}

// initIdentity selects the identity provider backend
func (d *Dependencies) initIdentity(cfg *config.Config) error {
	switch cfg.Identity.Backend {
	case config.IdentityMemory:
		d.Identity = identity.NewDirectory(cfg.Identity.BcryptCost, d.Logger).Factory()
		d.Logger.Warn("using in-memory identity backend; accounts are lost on restart")

	case config.IdentityCognito:
		backend, err := cognito.NewBackend(cognito.BackendConfig{
			Region:       cfg.Cognito.Region,
			UserPoolID:   cfg.Cognito.UserPoolID,
			ClientID:     cfg.Cognito.ClientID,
			ClientSecret: cfg.Cognito.ClientSecret,
		}, d.Logger)
		if err != nil {
			return err
		}
		d.Identity = backend.Factory()
		d.Logger.Info("using cognito identity backend",
			zap.String("region", cfg.Cognito.Region),
			zap.String("user_pool_id", cfg.Cognito.UserPoolID))

	default:
		return fmt.Errorf("unknown identity backend %q", cfg.Identity.Backend)
	}
	return nil
}

// initMirror builds the sink and starts the dispatcher workers
func (d *Dependencies) initMirror(cfg *config.Config) error {
	var sink mirror.Sink
	switch cfg.Mirror.Sink {
	case config.MirrorNone, "":
		return nil

	case config.MirrorHTTP:
		sink = mirror.NewHTTPSink(cfg.Mirror.HTTPURL, &http.Client{Timeout: cfg.Mirror.Timeout})

	case config.MirrorAMQP:
		amqpSink, err := mirror.DialAMQPSink(cfg.Mirror.AMQPURL, cfg.Mirror.Queue)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		d.mirrorSink = amqpSink
		sink = amqpSink

	case config.MirrorPostgres:
		if d.Profiles == nil {
			return errors.New("postgres mirror sink requires a database")
		}
		sink = mirror.NewRecordSink(d.Profiles, d.Logger)

	default:
		return fmt.Errorf("unknown mirror sink %q", cfg.Mirror.Sink)
	}

	dispatcher := mirror.NewDispatcher(sink, d.Logger, mirror.Config{
		BufferSize:  cfg.Mirror.BufferSize,
		WorkerCount: cfg.Mirror.Workers,
		Timeout:     cfg.Mirror.Timeout,
	})
	if err := dispatcher.Start(); err != nil {
		return err
	}
	d.Mirror = dispatcher
	return nil
}

// initSessions creates the browser-context registry and the access gate
func (d *Dependencies) initSessions(cfg *config.Config) error {
	policy, err := gate.ParseDefaultPolicy(cfg.Access.DefaultPolicy)
	if err != nil {
		return err
	}
	d.Gate = gate.New(cfg.Session.SignInPath, gate.DashboardRoutes(policy))

	storeCfg := session.Config{
		ResolveTimeout:      cfg.Session.ResolveTimeout,
		RecordLookupTimeout: cfg.Session.RecordLookupTimeout,
	}
	opts := []session.Option{}
	if d.Records != nil {
		opts = append(opts, session.WithRecords(d.Records))
	}
	if d.Mirror != nil {
		opts = append(opts, session.WithMirror(d.Mirror))
	}

	d.Registry = session.NewRegistry(func() *session.Store {
		return session.NewStore(d.Identity(), d.Cache, d.Logger, storeCfg, opts...)
	}, cfg.Session.MaxContexts, cfg.Session.IdleTTL, d.Logger)

	interval := cfg.Session.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go d.Registry.StartCleanupWorker(interval, d.stopCleanup)
	return nil
}

// initHTTP builds middleware and handlers on top of the wired services
func (d *Dependencies) initHTTP(cfg *config.Config) {
	// Requests wait at most this long for a fresh session before answering pending.
	resolveWait := cfg.Session.ResolveTimeout

	d.SessionMiddleware = middleware.NewSessionMiddleware(d.Registry, middleware.CookieConfig{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Session.CookieSecure,
		MaxAge: cfg.Session.IdleTTL,
	}, d.Logger)
	d.AccessMiddleware = middleware.NewAccessMiddleware(d.Gate, resolveWait, d.Logger)

	var rdb goredis.UniversalClient
	if d.Redis != nil {
		rdb = d.Redis
	}
	if d.DB != nil {
		d.HealthHandler = handlers.NewHealthHandler(d.DB.DB, rdb, d.Logger)
	} else {
		d.HealthHandler = handlers.NewHealthHandler(nil, rdb, d.Logger)
	}
	d.AuthHandler = handlers.NewAuthHandler(d.SessionMiddleware, d.Logger)
	d.SessionHandler = handlers.NewSessionHandler(resolveWait, d.Logger)
	d.AccessHandler = handlers.NewAccessHandler(d.Gate, d.Registry, resolveWait, d.Logger)
	d.ProfileAdmin = handlers.NewProfileAdminHandler(d.Profiles, d.Logger)
}

// Close gracefully closes all dependencies
func (d *Dependencies) Close() error {
	d.Logger.Info("closing dependencies")

	var errs []error

	if d.stopCleanup != nil {
		close(d.stopCleanup)
		d.stopCleanup = nil
	}
	if d.Registry != nil {
		d.Registry.Close()
	}

	if d.Mirror != nil {
		timeout := d.Config.Mirror.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		if err := d.Mirror.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop mirror dispatcher: %w", err))
		}
	}
	if d.mirrorSink != nil {
		if err := d.mirrorSink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close mirror sink: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	d.Logger.Info("all dependencies closed successfully")
	return nil
}
