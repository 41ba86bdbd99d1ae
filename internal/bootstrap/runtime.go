// Package bootstrap wires configuration into the running moderation pipeline.
package bootstrap

import (
	"fmt"

	"locbot/internal/cache"
	"locbot/internal/callback"
	"locbot/internal/config"
	"locbot/internal/database"
	"locbot/internal/docstore"
	"locbot/internal/featureflags"
	"locbot/internal/notify"
	"locbot/internal/registry"
	"locbot/internal/repository"
	"locbot/internal/scheduler"
	"locbot/internal/service"
	"locbot/internal/validation"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// InitRuntime connects to the ledger database and Redis. The Redis client is
// nil when Redis is unreachable.
func InitRuntime(cfg *config.Config) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	return db, cache.InitRedis(cfg.RedisURL), nil
}

// NewStore builds the shared-document backend selected by STORE_BACKEND.
func NewStore(cfg *config.Config) (docstore.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreGitHub:
		owner, repo := cfg.GitHubOwnerRepo()
		return docstore.NewGitHubStore(docstore.GitHubConfig{
			Token:          cfg.GitHubToken,
			Owner:          owner,
			Repo:           repo,
			Path:           cfg.GitHubFile,
			Branch:         cfg.GitHubBranch,
			BaseURL:        cfg.GitHubAPIURL,
			CommitterName:  cfg.CommitterName,
			CommitterEmail: cfg.CommitterEmail,
		})
	case config.StoreMinio:
		return docstore.NewMinioStore(docstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Object:    cfg.MinioObject,
			UseSSL:    cfg.MinioUseSSL,
		})
	case config.StoreMemory:
		return docstore.NewMemoryStore(nil), nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// NewSynchronizer applies the configured retry policy to store.
func NewSynchronizer(cfg *config.Config, store docstore.Store) *docstore.Synchronizer {
	return docstore.NewSynchronizer(store, docstore.SyncOptions{
		MaxAttempts:     cfg.SyncMaxAttempts,
		InitialInterval: cfg.SyncBackoff(),
		Timeout:         cfg.ExternalTimeout(),
	})
}

// Channel is what the pipeline needs from the chat platform.
type Channel interface {
	notify.Channel
	callback.Answerer
}

// Services is the wired moderation pipeline.
type Services struct {
	Flags      *featureflags.Manager
	Registry   *registry.Registry
	Ledger     repository.LocationRepository
	Syncer     *docstore.Synchronizer
	Notifier   *notify.Notifier
	Intake     *service.IntakeService
	Approvals  *service.ApprovalService
	Reconciler *scheduler.Reconciler
	Dispatcher *callback.Dispatcher
}

// NewServices builds the pipeline around an open ledger, a document store and
// a chat channel.
func NewServices(cfg *config.Config, db *gorm.DB, store docstore.Store, channel Channel) *Services {
	flags := featureflags.NewManager(cfg.FeatureFlags)
	reg := registry.New(registry.Options{
		PendingTTL:  cfg.PendingTTL(),
		TerminalTTL: cfg.TerminalTTL(),
		MaxEntries:  cfg.RegistryMaxEntries,
	})
	ledger := repository.NewLocationRepository(db)
	syncer := NewSynchronizer(cfg, store)

	notifier := notify.New(channel, reg, notify.NewRenderer(nil, flags), notify.Options{
		ChatID:  cfg.ModeratorChatID,
		Timeout: cfg.ExternalTimeout(),
	})
	intake := service.NewIntakeService(validation.NewValidator(nil), reg, notifier, cfg.ExternalTimeout())
	approvals := service.NewApprovalService(reg, ledger, syncer, notifier)
	reconciler := scheduler.NewReconciler(ledger, syncer, scheduler.Options{
		Interval:  cfg.ReconcileInterval(),
		Sweeper:   reg,
		Approvals: reg,
	})

	router := callback.NewRouter(channel, approvals, reg, cfg.ModeratorChatID)
	commands := callback.NewCommands(notifier, reg, syncer, ledger, cfg.ModeratorChatID)

	return &Services{
		Flags:      flags,
		Registry:   reg,
		Ledger:     ledger,
		Syncer:     syncer,
		Notifier:   notifier,
		Intake:     intake,
		Approvals:  approvals,
		Reconciler: reconciler,
		Dispatcher: callback.NewDispatcher(router, commands),
	}
}
