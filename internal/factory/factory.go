package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sms-bridge/internal/client"
	"sms-bridge/internal/config"
	"sms-bridge/internal/hashing"
	"sms-bridge/internal/model"
	"sms-bridge/internal/repository/clickhouse"
	"sms-bridge/internal/repository/postgres"
	redisrepo "sms-bridge/internal/repository/redis"
	"sms-bridge/internal/resilience"
	"sms-bridge/internal/service"
	"sms-bridge/internal/service/validation"
	"sms-bridge/internal/settings"
	"sms-bridge/internal/util"
	"sms-bridge/internal/worker"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	postgresClient   *client.PostgresClient
	clickhouseClient *client.ClickHouseClient
	kafkaProducer    *client.KafkaProducer

	// Managers
	hasher        *hashing.Hasher
	settingsStore *settings.Store

	// Fast-store repositories
	challengeCache    *redisrepo.ChallengeCache
	verificationCache *redisrepo.VerificationCache
	rateLimitCache    *redisrepo.RateLimitCache
	blacklistCache    *redisrepo.BlacklistCache
	queueCache        *redisrepo.QueueCache
	stateDump         *redisrepo.StateDump

	// Durable-store repositories
	blacklistRepo  *postgres.BlacklistRepository
	powerDownRepo  *postgres.PowerDownRepository
	backupRepo     *postgres.BackupRepository
	pendingSMSRepo *postgres.PendingSMSRepository
	settingsRepo   *postgres.SettingsRepository
	auditRepo      *clickhouse.AuditRepository

	// Services
	auditor             *service.Auditor
	challengeService    *service.ChallengeService
	verificationService *service.VerificationService
	recoveryService     *service.RecoveryService
	blacklistService    *service.BlacklistService
	settingsService     *service.SettingsService

	// Workers
	syncWorker        *worker.SyncWorker
	auditWorker       *worker.AuditWorker
	resilienceManager *resilience.Manager

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{config: cfg}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.hasher = hashing.NewHasher(cfg)
	factory.settingsStore = settings.NewStore(settings.Default(cfg))

	factory.initializeRepositories()
	factory.initializeServices()

	if err := factory.bootstrap(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to bootstrap: %w", err)
	}

	factory.initializeWorkers()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("clickhouse_enabled", factory.clickhouseClient != nil),
		util.Bool("kafka_enabled", factory.kafkaProducer != nil),
	)
	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// Postgres
	if pgClient, err := client.NewPostgresClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("postgres: %w", err))
	} else {
		f.postgresClient = pgClient
		if err := f.postgresClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("postgres health check: %w", err))
		} else {
			util.Info("Postgres client initialized and healthy")
		}
	}

	// ClickHouse (optional: audit archive degrades to buffer-only)
	if f.config.Clickhouse.Enabled {
		if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			util.Warn("ClickHouse initialization failed - audit archive disabled", util.ErrorField(err))
		} else {
			f.clickhouseClient = chClient
		}
	}

	// Kafka (optional: audit mirror is best-effort)
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}
	return nil
}

func (f *Factory) initializeRepositories() {
	f.challengeCache = redisrepo.NewChallengeCache(f.redisClient)
	f.verificationCache = redisrepo.NewVerificationCache(f.redisClient)
	f.rateLimitCache = redisrepo.NewRateLimitCache(f.redisClient)
	f.blacklistCache = redisrepo.NewBlacklistCache(f.redisClient)
	f.queueCache = redisrepo.NewQueueCache(f.redisClient)
	f.stateDump = redisrepo.NewStateDump(f.redisClient)

	f.blacklistRepo = postgres.NewBlacklistRepository(f.postgresClient)
	f.powerDownRepo = postgres.NewPowerDownRepository(f.postgresClient)
	f.backupRepo = postgres.NewBackupRepository(f.postgresClient)
	f.pendingSMSRepo = postgres.NewPendingSMSRepository(f.postgresClient)
	f.settingsRepo = postgres.NewSettingsRepository(f.postgresClient)

	if f.clickhouseClient != nil {
		f.auditRepo = clickhouse.NewAuditRepository(f.clickhouseClient)
	}
}

func (f *Factory) initializeServices() {
	f.auditor = service.NewAuditor(f.queueCache)

	pipeline := validation.NewPipeline(f.challengeCache, f.rateLimitCache, f.blacklistCache)

	f.verificationService = service.NewVerificationService(pipeline, f.settingsStore,
		f.challengeCache, f.verificationCache, f.pendingSMSRepo, f.auditor)

	f.resilienceManager = resilience.NewManager(f.config, f.redisClient, f.stateDump,
		f.powerDownRepo, f.pendingSMSRepo, f.verificationService, f.auditor)
	f.verificationService.SetGate(f.resilienceManager)

	f.challengeService = service.NewChallengeService(f.hasher, f.settingsStore,
		f.challengeCache, f.rateLimitCache, f.blacklistCache, f.auditor, f.resilienceManager)
	f.recoveryService = service.NewRecoveryService(f.hasher, f.settingsStore, f.queueCache, f.auditor)
	f.blacklistService = service.NewBlacklistService(f.blacklistRepo, f.blacklistCache, f.auditor)
	f.settingsService = service.NewSettingsService(f.config, f.settingsRepo, f.settingsStore)
}

func (f *Factory) initializeWorkers() {
	f.syncWorker = worker.NewSyncWorker(f.config, f.queueCache, f.settingsStore, f.auditor)
	f.auditWorker = worker.NewAuditWorker(f.config, f.queueCache, auditLogOrNil(f.auditRepo),
		f.backupRepo, f.hasher, f.kafkaProducer)
}

// auditLogOrNil avoids handing the worker a non-nil interface wrapping a nil
// repository when ClickHouse is disabled.
func auditLogOrNil(repo *clickhouse.AuditRepository) model.AuditLogStore {
	if repo == nil {
		return nil
	}
	return repo
}

// bootstrap runs the startup sequence: schema, settings, blacklist, and any
// leftover outage state from a previous run.
func (f *Factory) bootstrap() error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := postgres.EnsureSchema(ctx, f.postgresClient); err != nil {
		return err
	}
	if f.auditRepo != nil {
		if err := f.auditRepo.EnsureSchema(ctx); err != nil {
			util.Warn("Failed to ensure audit table - audit archive disabled", util.ErrorField(err))
			f.auditRepo = nil
		}
	}

	if err := f.settingsService.Load(ctx); err != nil {
		return err
	}
	if err := f.blacklistService.ReloadCache(ctx); err != nil {
		return err
	}
	if err := f.resilienceManager.Recover(ctx); err != nil {
		return fmt.Errorf("failed to replay leftover outage state: %w", err)
	}
	return nil
}

func (f *Factory) Config() *config.Config { return f.config }
func (f *Factory) RedisClient() *client.RedisClient { return f.redisClient }
func (f *Factory) PostgresClient() *client.PostgresClient { return f.postgresClient }
func (f *Factory) ChallengeService() *service.ChallengeService { return f.challengeService }
func (f *Factory) VerificationService() *service.VerificationService {
	return f.verificationService
}
func (f *Factory) RecoveryService() *service.RecoveryService { return f.recoveryService }
func (f *Factory) BlacklistService() *service.BlacklistService { return f.blacklistService }
func (f *Factory) SettingsService() *service.SettingsService { return f.settingsService }
func (f *Factory) SettingsStore() *settings.Store { return f.settingsStore }
func (f *Factory) SyncWorker() *worker.SyncWorker { return f.syncWorker }
func (f *Factory) AuditWorker() *worker.AuditWorker { return f.auditWorker }
func (f *Factory) ResilienceManager() *resilience.Manager { return f.resilienceManager }
func (f *Factory) StateDump() *redisrepo.StateDump { return f.stateDump }
func (f *Factory) PowerDownRepo() *postgres.PowerDownRepository {
	return f.powerDownRepo
}

// Close shuts down all clients. Safe to call more than once.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.kafkaProducer != nil {
			f.kafkaProducer.Close()
		}
		if f.clickhouseClient != nil {
			f.clickhouseClient.Close()
		}
		if f.postgresClient != nil {
			f.postgresClient.Close()
		}
		if f.redisClient != nil {
			f.redisClient.Close()
		}
		util.Info("Factory closed")
	})
}
