// cmd/loan-manager/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"loan-lifecycle/internal/api"
	awsclients "loan-lifecycle/internal/common/aws"
	"loan-lifecycle/internal/common/camunda"
	"loan-lifecycle/internal/common/config"
	"loan-lifecycle/internal/common/database"
	"loan-lifecycle/internal/common/lock"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/common/observability"
	"loan-lifecycle/internal/common/search"
	"loan-lifecycle/internal/lifecycle"
	"loan-lifecycle/internal/notification"
	"loan-lifecycle/internal/payment"
	"loan-lifecycle/internal/repository"
	"loan-lifecycle/internal/repository/gormstore"
	pgstore "loan-lifecycle/internal/repository/postgres"
	"loan-lifecycle/internal/rules"
	"loan-lifecycle/internal/stages"

	ar "loan-lifecycle/internal/workers/loan/assess-risk"
	df "loan-lifecycle/internal/workers/loan/disburse-funds"
	nr "loan-lifecycle/internal/workers/loan/notify-rejection"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting loan manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	keys, err := cfg.StageKeys()
	if err != nil {
		zapLog.Fatal("invalid stage keys", zap.Error(err))
	}

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("otel metrics disabled", zap.Error(err))
	}
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(camunda.ConfigFrom(cfg.Camunda))
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	defer zeebe.Close()
	zapLog.Info("Zeebe client connected successfully")

	// --- Application store ---
	store, closeStore := openStore(ctx, cfg, zapLog)
	defer closeStore()

	// --- Redis: task inbox and application locks ---
	var rc *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rc, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rc.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rc.Close()
	zapLog.Info("Redis connected successfully")

	redisCfg := cfg.Database.Redis
	inbox := camunda.NewInbox(rc.GetClient(), redisCfg.KeyPrefix)
	locker := lock.NewRedisLocker(rc.GetClient(), redisCfg.KeyPrefix,
		config.GetDuration(redisCfg.LockTTL), config.GetDuration(redisCfg.LockWait),
		lock.WithReleaseErrorHandler(func(key string, err error) {
			zapLog.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		}),
	)

	// --- Transition audit ---
	var audit search.Recorder = search.NopRecorder{}
	if cfg.Database.Elasticsearch.Enabled {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		audit = search.NewTransitionIndex(es.Client, cfg.Database.Elasticsearch.TransitionIndex)
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Collaborators ---
	notifier := newNotifier(ctx, cfg, log, zapLog)
	gateway, err := payment.New(cfg.Payment, log)
	if err != nil {
		zapLog.Fatal("payment gateway init failed", zap.Error(err))
	}

	var scorer rules.CreditScorer = rules.NewRandomScorer(cfg.Lifecycle.CreditScoreSeed)
	engine := lifecycle.NewEngine(scorer,
		lifecycle.WithRiskMirroredIntoCreditScore(cfg.Lifecycle.MirrorRiskIntoCreditScore))

	orch := camunda.NewOrchestrator(zeebe, inbox, log)
	svc := stages.NewService(stages.Deps{
		Store:        store,
		Orchestrator: orch,
		Board:        orch,
		Engine:       engine,
		Keys:         keys,
		Locker:       locker,
		Payment:      gateway,
		Notifier:     notifier,
		Audit:        audit,
		Obs:          obs,
		Logger:       log,
		ProcessID:    cfg.Camunda.ProcessID,
		Timeout:      config.GetDuration(cfg.Lifecycle.TransitionTimeout),
	})

	// --- Job workers ---
	workers := camunda.NewWorkerSet(zeebe.GetClient(), log)
	defer workers.Close()
	startWorkers(workers, cfg, keys, svc, inbox, obs, log)

	// --- HTTP API ---
	limiter := api.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst, log)
	stopCleanup := make(chan struct{})
	limiter.StartCleanup(time.Minute, stopCleanup)
	defer close(stopCleanup)

	e := api.NewRouter(api.NewHandler(svc, log), api.RouterOptions{
		RequestTimeout: config.GetDuration(cfg.HTTP.RequestTimeout),
		RateLimiter:    limiter,
		Ready: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := rc.Ping(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return zeebe.HealthCheck(ctx)
		},
	}, log)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		zapLog.Info("HTTP server listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	zapLog.Info("Loan manager started",
		zap.Strings("workers", workers.Types()),
		zap.String("processId", cfg.Camunda.ProcessID),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	zapLog.Info("Shutting down loan manager...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http shutdown failed", zap.Error(err))
	}
}

// openStore connects the configured database driver and migrates the schema.
func openStore(ctx context.Context, cfg *config.Config, zapLog *zap.Logger) (repository.Store, func()) {
	switch cfg.Database.Driver {
	case "mysql":
		var store *gormstore.Store
		err := retryWithBackoff(func() error {
			db, err := database.OpenMySQL(ctx, cfg.Database.MySQL)
			if err != nil {
				return err
			}
			store = gormstore.NewStore(db)
			return nil
		}, 15, 2*time.Second, zapLog, "MySQL connection")
		if err != nil {
			zapLog.Fatal("mysql failed after retries", zap.Error(err))
		}
		if err := store.AutoMigrate(ctx); err != nil {
			zapLog.Fatal("mysql migration failed", zap.Error(err))
		}
		zapLog.Info("MySQL connected successfully")
		return store, func() {}

	default:
		var pg *database.PostgresClient
		err := retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		store := pgstore.NewStore(pg.GetDB())
		if err := store.Migrate(ctx); err != nil {
			zapLog.Fatal("postgres migration failed", zap.Error(err))
		}
		zapLog.Info("PostgreSQL connected successfully")
		return store, func() { pg.Close() }
	}
}

// newNotifier builds the SES/SNS notifier, or nil when both channels are off.
func newNotifier(ctx context.Context, cfg *config.Config, log logger.Logger, zapLog *zap.Logger) notification.Notifier {
	nc := cfg.Notifications
	if !nc.Email.Enabled && !nc.SNS.Enabled {
		zapLog.Info("applicant notifications disabled")
		return nil
	}

	clients, err := awsclients.NewClients(ctx, nc.AWS.Region)
	if err != nil {
		zapLog.Fatal("aws clients init failed", zap.Error(err))
	}

	var sesClient notification.SESService
	var snsClient notification.SNSService
	if nc.Email.Enabled {
		sesClient = clients.SES
	}
	if nc.SNS.Enabled {
		snsClient = clients.SNS
	}
	return notification.NewService(sesClient, snsClient, nc, log)
}

// startWorkers subscribes to every stage's job type. Human stages are always
// parked in the task inbox; automated stages run their worker when enabled
// and are parked for the API otherwise.
func startWorkers(
	workers *camunda.WorkerSet,
	cfg *config.Config,
	keys lifecycle.StageKeys,
	svc *stages.Service,
	inbox *camunda.Inbox,
	obs *observability.Observability,
	log logger.Logger,
) {
	parker := camunda.NewTaskParker(inbox, log)
	parked := config.WorkerConfig{
		Enabled:       true,
		MaxJobsActive: cfg.Camunda.MaxJobsActive,
		Timeout:       cfg.Camunda.UserTaskTimeout,
	}

	for _, stage := range []lifecycle.Stage{
		lifecycle.StageReview,
		lifecycle.StageCreditCheck,
		lifecycle.StageApproval,
		lifecycle.StageAgreementPreparation,
		lifecycle.StageAgreementSigning,
	} {
		workers.Start(keys[stage], parked, parker.Handle)
	}

	automated := []struct {
		stage    lifecycle.Stage
		taskType string
		handler  func(config.WorkerConfig) camunda.HandlerFunc
	}{
		{lifecycle.StageRiskAssessment, ar.TaskType, func(w config.WorkerConfig) camunda.HandlerFunc {
			return ar.NewHandler(ar.LoadConfig(w), svc, obs, log).Handle
		}},
		{lifecycle.StageDisbursement, df.TaskType, func(w config.WorkerConfig) camunda.HandlerFunc {
			return df.NewHandler(df.LoadConfig(w), svc, obs, log).Handle
		}},
		{lifecycle.StageRejection, nr.TaskType, func(w config.WorkerConfig) camunda.HandlerFunc {
			return nr.NewHandler(nr.LoadConfig(w), svc, obs, log).Handle
		}},
	}
	for _, a := range automated {
		wcfg := config.GetWorkerConfig(cfg, a.taskType)
		if !wcfg.Enabled {
			workers.Start(keys[a.stage], parked, parker.Handle)
			continue
		}
		workers.Start(keys[a.stage], wcfg, a.handler(wcfg))
	}
}
