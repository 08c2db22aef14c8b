package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"doctransfer/internal/archive"
	"doctransfer/internal/config"
	"doctransfer/internal/secret"
	"doctransfer/internal/service"
	"doctransfer/internal/storage"
	"doctransfer/internal/transfer"
)

// App wires storage, secrets and services together. It is the only place
// that knows about every package.
type App struct {
	cfg *config.Config
	db  *storage.DB

	Connections *service.ConnectionService
	Transfers   *service.TransferService
	Jobs        *service.JobService
}

// New opens the database named by cfg and builds the services. emitter
// receives transfer events; nil logs them.
func New(cfg *config.Config, emitter service.EventEmitter) (*App, error) {
	db, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Storage stores
	connStore := storage.NewDBConnectionStore(db)
	transferStore := storage.NewTransferStore(db)

	var inner secret.SecretStore = secret.NewMemoryStore()
	if cfg.Secrets.File != "" {
		inner = secret.NewFileStore(cfg.Secrets.File)
	}
	secrets := secret.NewEnvStore(cfg.Secrets.EnvPrefix, inner)

	// Services
	conns := service.NewConnectionService(connStore, secrets)
	runner := archive.NewRunner(cfg.Tools.Mongodump, cfg.Tools.Mongorestore)
	pipeline := transfer.NewPipeline(conns, runner, cfg.TransferOptions())
	transfers := service.NewTransferService(pipeline, emitter, service.TransferServiceOptions{
		Resolver:       conns,
		Runs:           transferStore,
		Jobs:           transferStore,
		ProgressBuffer: cfg.Transfer.ProgressBuffer,
	})
	jobs := service.NewJobService(transferStore, transfers, emitter, cfg.Debounce())

	return &App{
		cfg:         cfg,
		db:          db,
		Connections: conns,
		Transfers:   transfers,
		Jobs:        jobs,
	}, nil
}

// Config returns the configuration the app was built with.
func (a *App) Config() *config.Config { return a.cfg }

// Startup starts the schedules and file watches of saved jobs.
func (a *App) Startup(ctx context.Context) {
	log.Printf("[APP] Using database %s", a.db.Path())
	a.Jobs.RestartWatchers(ctx)
}

// Shutdown stops the triggers, cancels active runs and closes everything.
// Runs get until ctx is done to finish their current batch.
func (a *App) Shutdown(ctx context.Context) {
	a.Jobs.Stop()
	if active := a.Transfers.ActiveDestinations(); len(active) > 0 {
		log.Printf("[APP] Cancelling %d active transfer(s)", len(active))
		a.Transfers.CancelAll()
	}
	a.Transfers.WaitRunning(ctx)
	a.Connections.Close()
	if err := a.db.Close(); err != nil {
		log.Printf("[APP] Close database: %v", err)
	}
}

// ShutdownTimeout bounds how long Shutdown waits for active runs.
const ShutdownTimeout = 30 * time.Second
