package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mymmrac/telego"
	"golang.org/x/sync/errgroup"

	"earnhub/internal/api"
	"earnhub/internal/bot"
	"earnhub/internal/commission"
	"earnhub/internal/config"
	"earnhub/internal/database"
	"earnhub/internal/ledger"
	"earnhub/internal/logging"
	"earnhub/internal/mining"
	"earnhub/internal/models"
	"earnhub/internal/notify"
	"earnhub/internal/referral"
	"earnhub/internal/rounds"
	"earnhub/internal/users"
	"earnhub/internal/utils"
	"earnhub/internal/worker"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()
	logging.Setup("earnhub", cfg.AppEnv, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Database
	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	// Connect to Redis
	rdb, err := database.ConnectRedis(ctx, cfg)
	if err != nil {
		log.Fatalf("Could not connect to redis: %v", err)
	}

	acc := ledger.New(db, ledger.DetectTransactions(ctx, db, cfg.StoreTransactions), nil)
	registry := users.NewService(db, acc, cfg.QualifyingDeposit)
	poster := mining.NewPoster(db, acc, cfg.DailyProfitRate)
	engine := commission.NewEngine(db, acc, commission.NewRuleStore(db, cfg.CommissionPolicy))

	var (
		tgBot    *telego.Bot
		notifier notify.Notifier = notify.Nop{}
	)
	if cfg.BotToken != "" {
		tgBot, err = telego.NewBot(cfg.BotToken)
		if err != nil {
			log.Fatalf("Could not create bot: %v", err)
		}
		if cfg.AdminChatID != 0 {
			notifier = notify.NewTelegram(tgBot, cfg.AdminChatID)
		}
	}

	managers := map[string]*rounds.Manager{}
	var list []*rounds.Manager
	for _, variant := range []string{models.VariantBlindBox, models.VariantGiftBox} {
		m, err := rounds.NewManager(db, rounds.Config{
			Variant:     variant,
			Duration:    cfg.RoundDuration,
			Gap:         cfg.RoundGap,
			EntryAmount: cfg.RoundEntryAmount,
			Namespace:   rounds.Namespace(cfg.ParticipantIDSalt),
			CacheTTL:    cfg.CacheTTL,
		}, nil, rdb, notifier)
		if err != nil {
			log.Fatalf("Could not create %s rounds: %v", variant, err)
		}
		managers[variant] = m
		list = append(list, m)
	}

	jobs := worker.NewSettlementRunner(db, acc, poster, engine, list...)

	callers, err := utils.ParseAllowList(cfg.SchedulerAllowedCIDRs)
	if err != nil {
		log.Fatalf("Invalid SCHEDULER_ALLOWED_CIDRS: %v", err)
	}
	server := api.NewServer(cfg.HTTPAddr, api.NewRouter(api.Dependencies{
		Rounds:     managers,
		Jobs:       jobs,
		Users:      registry,
		JobCallers: callers,
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if cfg.SchedulerEnabled {
		scheduler, err := worker.NewScheduler(jobs, map[string]string{
			worker.JobEnsureRounds:    cfg.CronEnsureRounds,
			worker.JobDailyProfit:     cfg.CronDailyProfit,
			worker.JobDailyCommission: cfg.CronDailyCommission,
			worker.JobMonthlyBonus:    cfg.CronMonthlyBonus,
		})
		if err != nil {
			log.Fatalf("Could not schedule jobs: %v", err)
		}
		scheduler.Start()
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			return scheduler.Stop(stopCtx)
		})
	}

	if tgBot != nil {
		ops := bot.NewBot(tgBot, registry, acc, referral.NewWalker(db, rdb, cfg.CacheTTL), managers, jobs)
		g.Go(func() error { return ops.Start(gctx) })
	}

	slog.Info("Service started successfully", "env", cfg.AppEnv, "transactional_store", acc.Transactional())
	if err := g.Wait(); err != nil {
		log.Fatalf("Service stopped: %v", err)
	}
}
