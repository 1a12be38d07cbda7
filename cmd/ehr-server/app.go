package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/config"
	"github.com/mentalspace/ehr/internal/domain/billing"
	"github.com/mentalspace/ehr/internal/domain/charting"
	"github.com/mentalspace/ehr/internal/domain/client"
	"github.com/mentalspace/ehr/internal/domain/credentialing"
	"github.com/mentalspace/ehr/internal/domain/portal"
	"github.com/mentalspace/ehr/internal/domain/reminder"
	"github.com/mentalspace/ehr/internal/domain/reporting"
	"github.com/mentalspace/ehr/internal/domain/scheduling"
	"github.com/mentalspace/ehr/internal/domain/staff"
	"github.com/mentalspace/ehr/internal/domain/telehealth"
	"github.com/mentalspace/ehr/internal/platform/auth"
	"github.com/mentalspace/ehr/internal/platform/blobstore"
	"github.com/mentalspace/ehr/internal/platform/clearinghouse"
	"github.com/mentalspace/ehr/internal/platform/db"
	"github.com/mentalspace/ehr/internal/platform/lock"
	"github.com/mentalspace/ehr/internal/platform/notification"
	"github.com/mentalspace/ehr/internal/platform/payments"
	"github.com/mentalspace/ehr/internal/platform/video"
	"github.com/mentalspace/ehr/internal/platform/websocket"
)

// app holds the domain services shared by the serve, worker and seed commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	store         blobstore.Store
	clearinghouse *clearinghouse.Client
	revocations   auth.RevocationStore
	hub           *websocket.Hub

	clients       *client.Service
	staff         *staff.Service
	charting      *charting.Service
	credentialing *credentialing.Service
	scheduling    *scheduling.Service
	billing       *billing.Service
	portal        *portal.Service
	telehealth    *telehealth.Service
	reminders     *reminder.Service
	reporting     *reporting.Service

	checks []db.Check
}

func newApp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, hub: websocket.NewHub(logger)}

	store, err := newBlobStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	if ms, ok := store.(*blobstore.MinioStore); ok {
		a.checks = append(a.checks, db.Check{Name: "object_storage", Ping: ms.Ping})
	}

	revocations, err := newRevocationStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.revocations = revocations
	if rs, ok := revocations.(*auth.RedisRevocationStore); ok {
		a.checks = append(a.checks, db.Check{Name: "redis", Ping: rs.Ping})
	}

	leads, err := cfg.ReminderLeadDurations()
	if err != nil {
		return nil, err
	}

	a.clearinghouse = clearinghouse.NewClient(clearinghouse.Config{
		BaseURL:   cfg.ClearinghouseURL,
		Username:  cfg.ClearinghouseUsername,
		Password:  cfg.ClearinghousePassword,
		OfficeKey: cfg.ClearinghouseOfficeKey,
	})

	a.clients = client.NewService(client.NewRepoPG(pool))
	a.staff = staff.NewService(staff.NewRepoPG(pool))
	a.charting = charting.NewService(charting.NewNoteRepoPG(pool), charting.NewAttachmentRepoPG(pool), store, logger)
	a.credentialing = credentialing.NewService(credentialing.NewRepoPG(pool), store, logger)
	a.scheduling = scheduling.NewService(
		scheduling.NewScheduleRepoPG(pool),
		scheduling.NewExceptionRepoPG(pool),
		scheduling.NewAppointmentTypeRepoPG(pool),
		scheduling.NewAppointmentRepoPG(pool),
		logger,
	)
	a.billing = billing.NewService(billing.Deps{
		Policies:      billing.NewPolicyRepoPG(pool),
		Claims:        billing.NewClaimRepoPG(pool),
		Payments:      billing.NewPaymentRepoPG(pool),
		Clearinghouse: a.clearinghouse,
		Processor:     payments.NewStripeProcessor(cfg.StripeSecretKey),
		Store:         store,
		Clients:       a.clients,
		Staff:         a.staff,
		Appointments:  a.scheduling,
	}, logger)
	a.portal = portal.NewService(
		portal.NewAccountRepoPG(pool),
		a.clients,
		a.scheduling,
		a.billing,
		auth.NewTokenIssuer([]byte(cfg.AuthSigningKey), cfg.PortalTokenTTL),
		a.revocations,
		logger,
	)
	a.telehealth = telehealth.NewService(
		telehealth.NewSessionRepoPG(pool),
		a.scheduling,
		video.NewClient(video.Config{BaseURL: cfg.TelehealthAPIURL, APIKey: cfg.TelehealthAPIKey}),
		logger,
	)
	a.reminders = reminder.NewService(reminder.Deps{
		Reminders:  reminder.NewRepoPG(pool),
		Templates:  reminder.NewTemplateRepoPG(pool),
		Clients:    a.clients,
		Staff:      a.staff,
		Scheduling: a.scheduling,
		Sender:     newDispatcher(cfg, logger),
		LeadTimes:  leads,
	}, logger)
	a.reporting = reporting.NewService(reporting.NewRepoPG(pool), a.scheduling, a.staff, logger)

	a.scheduling.AddListener(a.reminders)
	a.scheduling.AddListener(a.telehealth)
	a.scheduling.AddListener(scheduling.NewCalendarFeed(a.hub))

	return a, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (blobstore.Store, error) {
	if cfg.MinioEndpoint == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("MINIO_ENDPOINT is required when ENV=production")
		}
		logger.Warn().Msg("MINIO_ENDPOINT not set, attachments are kept in memory")
		return blobstore.NewMemoryStore(), nil
	}
	store, err := blobstore.NewMinioStore(ctx, blobstore.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object storage: %w", err)
	}
	return store, nil
}

// newRevocationStore shares logouts through Redis when REDIS_URL is set.
// The in-process fallback only covers a single server instance.
func newRevocationStore(cfg *config.Config, logger zerolog.Logger) (auth.RevocationStore, error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, token revocations are kept in memory")
		return auth.NewMemoryRevocationStore(), nil
	}
	rdb, err := lock.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return auth.NewRedisRevocationStore(rdb), nil
}

// newDispatcher wires the configured channels. An unconfigured channel stays
// nil and its reminders fail as disabled instead of retrying.
func newDispatcher(cfg *config.Config, logger zerolog.Logger) *notification.Dispatcher {
	var email notification.EmailSender
	if cfg.SMTPHost != "" {
		email = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		logger.Warn().Msg("SMTP_HOST not set, email reminders are disabled")
	}

	var sms notification.SMSSender
	if cfg.SMSAPIURL != "" {
		sms = notification.NewHTTPSMSSender(notification.SMSConfig{
			BaseURL: cfg.SMSAPIURL,
			APIKey:  cfg.SMSAPIKey,
			From:    cfg.SMSFrom,
		})
	} else {
		logger.Warn().Msg("SMS_API_URL not set, text reminders are disabled")
	}
	return notification.NewDispatcher(email, sms)
}

// registerRoutes mounts every domain handler on the /api/v1 group.
func (a *app) registerRoutes(api *echo.Group) {
	client.NewHandler(a.clients).RegisterRoutes(api)
	staff.NewHandler(a.staff).RegisterRoutes(api)
	charting.NewHandler(a.charting).RegisterRoutes(api)
	credentialing.NewHandler(a.credentialing).RegisterRoutes(api)
	scheduling.NewHandler(a.scheduling).RegisterRoutes(api)
	billing.NewHandler(a.billing).RegisterRoutes(api)
	portal.NewHandler(a.portal).RegisterRoutes(api)
	telehealth.NewHandler(a.telehealth).RegisterRoutes(api)
	reminder.NewHandler(a.reminders, a.cfg.ReminderCallbackSecret).RegisterRoutes(api)
	reporting.NewHandler(a.reporting).RegisterRoutes(api)
	websocket.NewHandler(a.hub, a.cfg.CORSOrigins).RegisterRoutes(api)
}
