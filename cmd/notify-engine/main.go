// cmd/notify-engine/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/robfig/cron/v3"

	"notify-engine/internal/approval"
	"notify-engine/internal/calendar"
	"notify-engine/internal/campaign"
	"notify-engine/internal/catalog"
	"notify-engine/internal/coalesce"
	"notify-engine/internal/common/config"
	"notify-engine/internal/common/crm"
	"notify-engine/internal/common/database"
	"notify-engine/internal/common/logger"
	"notify-engine/internal/common/observability"
	"notify-engine/internal/dispatch"
	"notify-engine/internal/gating"
	"notify-engine/internal/httpapi"
	"notify-engine/internal/inbound"
	"notify-engine/internal/ledger"
	"notify-engine/internal/models"
	"notify-engine/internal/settings"
	"notify-engine/internal/store"
	"notify-engine/internal/trigger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("starting notify-engine", map[string]interface{}{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage connections with retry so a cold docker-compose start settles.
	var pg *database.PostgresClient
	if err := retryWithBackoff(ctx, "postgres", log, func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		return err
	}); err != nil {
		log.Error("postgres unavailable", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer pg.Close()

	var rdb *database.RedisClient
	if err := retryWithBackoff(ctx, "redis", log, func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		return err
	}); err != nil {
		log.Error("redis unavailable", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer rdb.Close()

	// Domain wiring.
	cat := catalog.New(cfg.Notifications.DefaultTimezone)
	if cfg.Notifications.TemplateRegistry != "" {
		if err := cat.LoadRegistry(cfg.Notifications.TemplateRegistry); err != nil {
			log.Error("template registry load failed", map[string]interface{}{
				"path":  cfg.Notifications.TemplateRegistry,
				"error": err.Error(),
			})
			os.Exit(1)
		}
	}

	st := store.NewPostgresStore(pg.GetDB())
	if err := st.EnsureSchema(ctx); err != nil {
		log.Error("schema migration failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	retention := time.Duration(cfg.Notifications.LedgerRetentionDays) * 24 * time.Hour
	led := ledger.NewRedisLedger(rdb.GetClient(), cat, retention)

	settingsSvc := settings.NewRedisSettings(rdb.GetClient(), config.GetDuration(cfg.Notifications.SettingsTTL), log)
	if err := settingsSvc.SeedDefaults(ctx, cfg.Notifications.GlobalEnabled, cfg.Notifications.PreviewMode); err != nil {
		log.Warn("settings seed failed", map[string]interface{}{"error": err.Error()})
	}

	previewRepo := approval.NewRedisPreviewRepo(rdb.GetClient())
	pipeline := gating.NewPipeline(cat, settingsSvc, st, func(ctx context.Context, entry models.PreviewEntry) error {
		return previewRepo.Save(ctx, entry)
	}, log)
	queue := approval.NewQueue(previewRepo, st, cat, log)

	transport, err := buildTransport(ctx, cfg, log)
	if err != nil {
		log.Error("transport setup failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	dispatcher := dispatch.NewDispatcher(st, led, cat, transport,
		time.Duration(cfg.Notifications.DispatchInterval)*time.Second,
		config.GetDuration(cfg.Notifications.TransportTimeout), log)

	source := calendar.NewHTTPSource(cfg.Calendar.BaseURL, cfg.Calendar.APIKey, config.GetDuration(cfg.Calendar.Timeout), log)

	var resolver *crm.Resolver
	if cfg.CRM.Enabled {
		resolver = crm.NewResolver(cfg.CRM.BaseURL, cfg.CRM.APIKey, config.GetDuration(cfg.CRM.CacheTTL), log)
	}

	scheduler := trigger.NewScheduler(trigger.Options{
		Catalog:         cat,
		Settings:        settingsSvc,
		Store:           st,
		Ledger:          led,
		Source:          source,
		Pipeline:        pipeline,
		Watermarks:      trigger.NewRedisWatermarks(rdb.GetClient()),
		Resolver:        resolver,
		Obs:             obs,
		Logger:          log,
		DefaultTimezone: cfg.Notifications.DefaultTimezone,
		DefaultLanguage: cfg.Notifications.DefaultLanguage,
	})

	engine := campaign.NewEngine(cat, source, st, led, pipeline, dispatcher, cfg.Notifications.DefaultLanguage, log)

	// Background loops.
	c := cron.New()
	if _, err := c.AddFunc("* * * * *", func() { scheduler.Tick(ctx) }); err != nil {
		log.Error("cron setup failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	go dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if cfg.AMQP.Enabled {
		buffer := coalesce.New(time.Duration(cfg.Notifications.DebounceSeconds)*time.Second, log)
		consumer := inbound.NewConsumer(cfg.AMQP, buffer, log)
		if err := retryWithBackoff(ctx, "amqp", log, consumer.Connect); err != nil {
			log.Error("amqp unavailable", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("inbound consumer stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	// HTTP surface.
	api := httpapi.NewServer(cat, settingsSvc, st, pipeline, queue, engine, log)
	server := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: api.Router(),
	}
	go func() {
		log.Info("http server listening", map[string]interface{}{"address": cfg.HTTP.Address})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	log.Info("notify-engine stopped", nil)
}

func buildTransport(ctx context.Context, cfg *config.Config, log logger.Logger) (dispatch.Transport, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, err
	}

	var sms, email dispatch.Transport
	if cfg.AWS.SNS.Enabled {
		sms = dispatch.NewSNSTransport(sns.NewFromConfig(awsCfg), cfg.AWS.SNS.SenderID, log)
	}
	if cfg.AWS.SES.Enabled {
		email = dispatch.NewSESTransport(ses.NewFromConfig(awsCfg), cfg.AWS.SES.FromEmail, log)
	}
	if sms == nil && email == nil {
		return nil, fmt.Errorf("no transport enabled: set aws.sns.enabled or aws.ses.enabled")
	}
	return dispatch.NewRouter(sms, email), nil
}

func retryWithBackoff(ctx context.Context, name string, log logger.Logger, connect func() error) error {
	const attempts = 5
	backoff := time.Second
	var err error
	for i := 1; i <= attempts; i++ {
		if err = connect(); err == nil {
			return nil
		}
		log.Warn("connection attempt failed", map[string]interface{}{
			"target":  name,
			"attempt": i,
			"error":   err.Error(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
