package watch

import (
	"context"
	"fmt"
	"log/slog"

	"go-watchtower/internal/watch/routes"
	"go-watchtower/internal/watch/services"
	"go-watchtower/pkg/chat"
	"go-watchtower/pkg/database"
	"go-watchtower/pkg/evegateway"
	"go-watchtower/pkg/module"
	"go-watchtower/pkg/sso"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"
)

// Module is the corporate-asset watch module: the poll loop, the
// credential pool, the reconcilers and the notification pipeline, plus the
// HTTP surface for authorization and configuration.
type Module struct {
	*module.BaseModule

	store   *services.Store
	repo    *services.Repository
	service *services.WatchService
	poller  *services.Poller
	cron    *cron.Cron
}

// New wires the watch module
func New(mongodb *database.MongoDB, redis *database.Redis, esiClient *evegateway.Client, messenger chat.Messenger) *Module {
	baseModule := module.NewBaseModule("watch", mongodb, redis)

	store := services.NewStore()
	repo := services.NewRepository(mongodb)
	ssoHandler := sso.NewEVESSOHandler()

	pool := services.NewCredentialPool(ssoHandler, esiClient.Character)
	membership := services.NewMembershipReconciler(esiClient.Corporation, pool, messenger)
	notifier := services.NewNotifier(messenger, esiClient.Universe, store)
	poller := services.NewPoller(store, repo, pool, membership, notifier, messenger,
		esiClient.Corporation, esiClient.Character, esiClient.Universe)

	service := services.NewWatchService(store, repo, ssoHandler, esiClient, messenger)

	return &Module{
		BaseModule: baseModule,
		store:      store,
		repo:       repo,
		service:    service,
		poller:     poller,
		cron:       cron.New(),
	}
}

// Initialize loads the persisted corpus through the migration pipeline.
// Failure here is fatal, the process must not poll against empty state.
func (m *Module) Initialize(ctx context.Context) error {
	corporations, err := m.repo.LoadCorporations(ctx)
	if err != nil {
		return fmt.Errorf("failed to load corporations: %w", err)
	}

	channels, err := m.repo.LoadChannelConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load channel configs: %w", err)
	}

	m.store.Load(corporations, channels)

	slog.InfoContext(ctx, "Watch corpus loaded",
		slog.Int("corporations", len(corporations)),
		slog.Int("channels", len(channels)))
	return nil
}

// Routes implements module.Module
func (m *Module) Routes(r chi.Router) {
	m.RegisterHealthRoute(r)
}

// RegisterUnifiedRoutes registers routes on the shared Huma API
func (m *Module) RegisterUnifiedRoutes(api huma.API, basePath string) {
	routes.RegisterWatchRoutes(api, basePath, m.service)
}

// StartBackgroundTasks runs the poll loop and the periodic corpus backup.
// The backup is a backstop, each significant mutation persists on its own.
func (m *Module) StartBackgroundTasks(ctx context.Context) {
	slog.InfoContext(ctx, "Starting watch background tasks", slog.String("module", m.Name()))

	go m.poller.Run(ctx)

	if _, err := m.cron.AddFunc("@hourly", func() {
		if err := m.repo.BackupCorpus(ctx); err != nil {
			slog.Error("Periodic corpus backup failed", slog.Any("error", err))
		}
	}); err != nil {
		slog.Error("Failed to schedule corpus backup", slog.Any("error", err))
	}
	m.cron.Start()

	go func() {
		select {
		case <-ctx.Done():
		case <-m.StopChannel():
		}
		m.cron.Stop()
	}()
}

// Service exposes the watch service for other modules
func (m *Module) Service() *services.WatchService {
	return m.service
}
