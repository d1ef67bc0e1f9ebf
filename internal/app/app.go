// Package app assembles the upload service from configuration. The server,
// the worker and the CLI share it so every process wires the same backends.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ChunkDrop/internal/api"
	"github.com/dharsanguruparan/ChunkDrop/internal/auth"
	"github.com/dharsanguruparan/ChunkDrop/internal/config"
	"github.com/dharsanguruparan/ChunkDrop/internal/database"
	"github.com/dharsanguruparan/ChunkDrop/internal/metrics"
	"github.com/dharsanguruparan/ChunkDrop/internal/processing"
	"github.com/dharsanguruparan/ChunkDrop/internal/queue"
	"github.com/dharsanguruparan/ChunkDrop/internal/repository"
	"github.com/dharsanguruparan/ChunkDrop/internal/s3storage"
	"github.com/dharsanguruparan/ChunkDrop/internal/storage"
	"github.com/dharsanguruparan/ChunkDrop/internal/upload"
	"github.com/dharsanguruparan/ChunkDrop/internal/worker"
)

// objectStore is everything the core and the janitor need from a store.
type objectStore interface {
	upload.ObjectStore
	worker.ObjectStore
}

type sessionStore interface {
	upload.SessionStore
	worker.SessionIndex
}

type fileStore interface {
	upload.FileStore
	worker.FileIndex
}

// EntityCreator registers owning entities.
type EntityCreator interface {
	CreateEntity(ctx context.Context, id, kind string) error
}

// App holds the assembled dependency graph.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Service  *upload.Service
	Janitor  *worker.Janitor
	Signer   *auth.Signer
	Entities EntityCreator

	objects  objectStore
	queue    *asynq.Client
	inproc   *processing.Processor
	cached   *repository.CachedEntities
	closeFns []func()
}

// Options select backends that configuration alone does not.
type Options struct {
	// Memory keeps metadata and objects in process memory.
	Memory bool
	// SkipMigrations leaves the schema untouched.
	SkipMigrations bool
}

// Build connects to the configured backends. Without a database URL the
// metadata lives in memory; without a Redis address orphan cleanup runs on an
// in-process pool.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Signer: auth.NewSigner(cfg.SigningSecret, cfg.TokenTTL),
	}

	var (
		sessions sessionStore
		files    fileStore
		entities repository.EntityChecker
	)
	if opts.Memory || cfg.DatabaseURL == "" {
		mem := storage.NewMemoryStore()
		sessions, files, entities = mem, mem, mem
		a.Entities = mem
		logger.Warn("metadata kept in memory; sessions and file records are lost on restart")
	} else {
		if !opts.SkipMigrations {
			if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
				return nil, err
			}
		}
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closeFns = append(a.closeFns, pool.Close)
		repo := repository.NewEntityRepository(pool)
		sessions = repository.NewSessionRepository(pool)
		files = repository.NewFileRepository(pool)
		entities = repo
		a.Entities = entityCreator{repo}
	}
	a.cached = repository.NewCachedEntities(entities, cfg.EntityCacheSize, cfg.EntityCacheTTL)

	if opts.Memory {
		a.objects = storage.NewMemoryObjects(cfg.PublicURLBase)
	} else {
		store, err := s3storage.New(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.objects = store
	}

	a.Janitor = worker.NewJanitor(a.objects, files, sessions, cfg.QuarantinePrefix, logger)

	var orphans upload.OrphanReporter
	if cfg.RedisAddr != "" {
		a.queue = asynq.NewClient(redisOpt(cfg))
		a.closeFns = append(a.closeFns, func() { _ = a.queue.Close() })
		orphans = queue.NewReporter(a.queue)
	} else {
		a.inproc = processing.New(a.Janitor.DeleteOrphan, cfg.ProcessingPool, logger)
		orphans = a.inproc
	}

	svc, err := upload.New(upload.Deps{
		Store:    a.objects,
		Sessions: sessions,
		Files:    files,
		Entities: a.cached,
		Orphans:  orphans,
		Observer: metrics.Collector{},
		Logger:   logger,
	}, upload.Options{
		Bucket:             cfg.Bucket,
		MultipartThreshold: cfg.MultipartThreshold,
		DefaultChunkSize:   cfg.DefaultChunkSize,
		MinChunkSize:       cfg.MinChunkSize,
		MaxChunkSize:       cfg.MaxChunkSize,
		PresignTTL:         cfg.PresignTTL,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Service = svc
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

// Serve runs the HTTP API until ctx is cancelled. Without Redis it also runs
// orphan cleanup and the periodic maintenance passes in process.
func (a *App) Serve(ctx context.Context) error {
	if err := a.objects.EnsureBucket(ctx, a.Config.Bucket); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", a.Config.Bucket, err)
	}
	if a.inproc != nil {
		a.inproc.Start(ctx)
		defer a.inproc.Wait()
		go a.maintain(ctx)
	}
	return api.New(a.Service, a.Signer, a.Config.Address, "", a.Logger).Run(ctx)
}

// RunWorker consumes cleanup tasks from Redis and schedules the periodic
// sweep and reconciliation tasks.
func (a *App) RunWorker(ctx context.Context) error {
	if a.Config.RedisAddr == "" {
		return errors.New("worker requires CHUNKDROP_REDIS_ADDR")
	}
	if err := a.objects.EnsureBucket(ctx, a.Config.Bucket); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", a.Config.Bucket, err)
	}
	log := asynqLogger{a.Logger.With("component", "asynq")}

	scheduler, err := a.scheduler(log)
	if err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Shutdown()

	server := asynq.NewServer(redisOpt(a.Config), asynq.Config{
		Concurrency: a.Config.ProcessingPool,
		Logger:      log,
		Queues:      map[string]int{"default": 1},
	})
	processor := worker.NewProcessor(a.Janitor, a.Service, a.Config.Bucket, a.Logger)

	if err := server.Start(processor.Handler()); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	a.Logger.Info("worker started", "concurrency", a.Config.ProcessingPool,
		"sweep", a.Config.SweepSpec, "reconcile", a.Config.ReconcileSpec)
	<-ctx.Done()
	server.Shutdown()
	a.Logger.Info("worker stopped")
	return nil
}

func (a *App) scheduler(log asynq.Logger) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOpt(a.Config), &asynq.SchedulerOpts{Logger: log})
	sweep, err := queue.NewSweepTask(queue.SweepPayload{OlderThan: a.Config.StaleSessionAge, Limit: sweepBatch})
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(a.Config.SweepSpec, sweep); err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", a.Config.SweepSpec, err)
	}
	reconcile, err := queue.NewReconcileTask(queue.ReconcilePayload{Prefix: upload.KeyPrefix, Grace: a.Config.ReconcileGrace})
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(a.Config.ReconcileSpec, reconcile); err != nil {
		return nil, fmt.Errorf("schedule reconcile %q: %w", a.Config.ReconcileSpec, err)
	}
	return scheduler, nil
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

type entityCreator struct {
	repo *repository.EntityRepository
}

func (e entityCreator) CreateEntity(ctx context.Context, id, kind string) error {
	return e.repo.Create(ctx, id, kind)
}
