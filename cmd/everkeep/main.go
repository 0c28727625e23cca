package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/everkeep/everkeep/modules/billingapi"
	"github.com/everkeep/everkeep/pkg/billing"
	"github.com/everkeep/everkeep/pkg/config"
	"github.com/everkeep/everkeep/pkg/httpserver"
	"github.com/everkeep/everkeep/pkg/ingest"
	"github.com/everkeep/everkeep/pkg/jobs"
	"github.com/everkeep/everkeep/pkg/ledger"
	"github.com/everkeep/everkeep/pkg/lifecycle"
	"github.com/everkeep/everkeep/pkg/logger"
	"github.com/everkeep/everkeep/pkg/pg"
	"github.com/everkeep/everkeep/pkg/redis"
	"github.com/everkeep/everkeep/pkg/subscriptions"
	"github.com/everkeep/everkeep/pkg/takeover"
)

const serviceName = "everkeep"

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"production"`
	CatalogPath string `env:"PRICE_CATALOG_PATH" envDefault:"config/prices.yaml"`

	// JobsToken authenticates the external scheduler on the sweep
	// endpoints.
	JobsToken string `env:"JOBS_AUTH_TOKEN,required"`

	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	NoticeFromEmail      string `env:"NOTICE_FROM_EMAIL" envDefault:"billing@everkeep.app"`
}

func main() {
	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := logger.New(logger.WithEnvironment(appCfg.Env, serviceName))
	logger.SetAsDefault(log)

	ctx := context.Background()
	if err := run(ctx, appCfg, log); err != nil {
		log.ErrorContext(ctx, "service exited with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, appCfg appConfig, log *slog.Logger) error {
	var pgCfg pg.Config
	config.MustLoad(&pgCfg)
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return err
	}

	var redisCfg redis.Config
	config.MustLoad(&redisCfg)
	redisClient, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	var paddleCfg billing.PaddleConfig
	config.MustLoad(&paddleCfg)
	gateway, err := billing.NewPaddleGateway(paddleCfg)
	if err != nil {
		return err
	}

	catalog, err := billing.LoadCatalog(appCfg.CatalogPath)
	if err != nil {
		return err
	}

	store := ledger.NewPGStore(pool)
	machine := lifecycle.NewMachine()
	takeovers := takeover.NewService(store, gateway, catalog, log)
	processor := ingest.NewProcessor(store, machine, log,
		ingest.WithTakeoverCompleter(takeovers))
	subs := subscriptions.NewService(store, gateway, machine, log)

	var jobsCfg jobs.Config
	config.MustLoad(&jobsCfg)
	var notifier jobs.Notifier = jobs.NopNotifier{}
	if appCfg.PostmarkServerToken != "" {
		notifier = jobs.NewPostmarkNotifier(
			appCfg.PostmarkServerToken, appCfg.PostmarkAccountToken, appCfg.NoticeFromEmail)
	}
	locker := jobs.NewRedisLocker(redisClient)
	graceSweep := jobs.NewGraceSweeper(store, notifier, locker, jobsCfg, log)
	suspensionSweep := jobs.NewSuspensionSweeper(store, notifier, locker, jobsCfg, log)

	apiRouter := billingapi.NewRouter(billingapi.Deps{
		Log:             log,
		Store:           store,
		Gateway:         gateway,
		Processor:       processor,
		Takeovers:       takeovers,
		Subscriptions:   subs,
		GraceSweep:      graceSweep,
		SuspensionSweep: suspensionSweep,
		JobsToken:       appCfg.JobsToken,
	})

	root := chi.NewRouter()
	root.Get("/health", httpserver.HealthCheckHandler(ctx, log,
		pg.Healthcheck(pool),
		redis.Healthcheck(redisClient),
	))
	root.Mount("/", apiRouter)

	var httpCfg httpserver.Config
	config.MustLoad(&httpCfg)
	srv := httpserver.NewFromConfig(httpCfg,
		httpserver.WithLogger(log),
		httpserver.WithStartHook(func(l *slog.Logger) {
			l.InfoContext(ctx, "listening", slog.String("addr", httpCfg.Addr))
		}),
	)
	return srv.Run(ctx, root)
}
