package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"outreach-engine/internal/activity"
	"outreach-engine/internal/ai"
	"outreach-engine/internal/approval"
	"outreach-engine/internal/auth"
	"outreach-engine/internal/campaign"
	"outreach-engine/internal/config"
	"outreach-engine/internal/costs"
	"outreach-engine/internal/crm"
	"outreach-engine/internal/dispatch"
	"outreach-engine/internal/genqueue"
	"outreach-engine/internal/httpapi"
	"outreach-engine/internal/inbound"
	"outreach-engine/internal/rotation"
	"outreach-engine/pkg/logger"
	"outreach-engine/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	loc, err := time.LoadLocation(cfg.Rotation.Timezone)
	if err != nil {
		log.Error("bad rotation timezone", "tz", cfg.Rotation.Timezone, "err", err)
		os.Exit(1)
	}

	// Stores.
	drafts := genqueue.NewPostgresRepo(db)
	ledger := costs.NewLedger(costs.NewPostgresRepo(db))
	inboundRepo := inbound.NewPostgresRepo(db)
	campaignRepo := campaign.NewPostgresRepo(db)
	activityRepo := activity.NewPostgresRepo(db)
	claims := approval.NewRedisClaims(rdb)
	rotationStore := rotation.NewRedisStore(rdb)

	// Collaborators.
	generator, err := ai.NewOpenAIClient(cfg.Generator)
	if err != nil {
		log.Error("generator init failed", "err", err)
		os.Exit(1)
	}
	crmClient, err := crm.NewHTTPClient(cfg.CRM)
	if err != nil {
		log.Error("crm client init failed", "err", err)
		os.Exit(1)
	}

	var publisher activity.Publisher
	if cfg.AMQP.URL != "" {
		conn, err := amqp.Dial(cfg.AMQP.URL)
		if err != nil {
			log.Error("amqp dial failed", "err", err)
			os.Exit(1)
		}
		defer conn.Close()
		pub, err := activity.NewAMQPPublisher(conn, cfg.AMQP.Exchange)
		if err != nil {
			log.Error("amqp publisher init failed", "err", err)
			os.Exit(1)
		}
		defer pub.Close()
		publisher = pub
	}

	// Services.
	activitySvc := activity.NewService(activityRepo, drafts, publisher)
	queueSvc := genqueue.NewService(drafts, generator, ledger, cfg.Generator.Model)
	approvalSvc := approval.NewService(drafts, claims, crmClient, cfg.Engine.ClaimTTL)

	senders := make([]rotation.Sender, 0, len(cfg.Rotation.Senders))
	for _, s := range cfg.Rotation.Senders {
		senders = append(senders, rotation.Sender{Name: s.Name, Email: s.Email})
	}
	rotationSvc := rotation.NewService(senders, rotationStore, cfg.Rotation.DailyCap, cfg.Rotation.BatchMax, loc)

	transport := dispatch.NewSMTPTransport(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password)
	dispatchSvc := dispatch.NewService(transport, rotationSvc, float64(cfg.Engine.SendRatePerSec), senderDomain(senders))

	campaignSvc := campaign.NewService(campaign.ServiceDeps{
		Repo:    campaignRepo,
		Leads:   drafts,
		Drafter: queueSvc,
		Lookup:  drafts,
		Sender:  dispatchSvc,
		Rec:     activitySvc,
		Replies: inboundRepo,
		Hours:   campaign.Hours{From: cfg.Engine.WorkingHourFrom, To: cfg.Engine.WorkingHourTo, Loc: loc},
	})

	// Mailbox polling is deployment-specific; without one configured the
	// inbound queue is fed by whatever posts messages into the store.
	inboundSvc := inbound.NewService(inbound.ServiceDeps{
		Repo:     inboundRepo,
		Leads:    drafts,
		Drafts:   drafts,
		Mailbox:  nil,
		Gen:      generator,
		Drafter:  queueSvc,
		Sender:   dispatchSvc,
		Threads:  drafts,
		CRM:      crmClient,
		Claims:   claims,
		Rec:      activitySvc,
		ClaimTTL: cfg.Engine.ClaimTTL,
	})

	if dir := strings.TrimSpace(os.Getenv("CAMPAIGN_PRESET_DIR")); dir != "" {
		if err := loadPresets(rootCtx, log, campaignSvc, dir); err != nil {
			log.Error("preset load failed", "err", err)
			os.Exit(1)
		}
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:      authManager,
		Queue:     queueSvc,
		Approval:  approvalSvc,
		Inbound:   inboundSvc,
		Campaigns: campaignSvc,
		Rotation:  rotationSvc,
		Dispatch:  dispatchSvc,
		Activity:  activitySvc,
	}
	registerRoutes(r, h, auth.RequireSession(authManager), auth.RequireCronSecret(cfg.Auth.CronSecret))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// loadPresets creates campaigns from YAML definitions, skipping names that
// already exist so restarts do not duplicate them.
func loadPresets(ctx context.Context, log *slog.Logger, svc *campaign.Service, dir string) error {
	existing, err := svc.List(ctx, "")
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, c := range existing {
		known[c.Name] = true
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return err
	}
	for _, p := range paths {
		c, err := campaign.LoadPresetFile(p)
		if err != nil {
			return err
		}
		if known[c.Name] {
			continue
		}
		if _, err := svc.Create(ctx, c); err != nil {
			return err
		}
		log.Info("campaign preset loaded", "name", c.Name, "file", filepath.Base(p))
	}
	return nil
}

func senderDomain(senders []rotation.Sender) string {
	if len(senders) == 0 {
		return ""
	}
	_, domain, ok := strings.Cut(senders[0].Email, "@")
	if !ok {
		return ""
	}
	return domain
}
