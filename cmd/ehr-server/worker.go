package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mentalspace/ehr/internal/platform/db"
	"github.com/mentalspace/ehr/internal/platform/lock"
	"github.com/mentalspace/ehr/internal/platform/notification"
)

// tenantJob runs against one tenant's schema and reports how many records
// it touched.
type tenantJob func(ctx context.Context) (int, error)

// worker runs the periodic integration jobs across every tenant and consumes
// the reminder delivery queue.
type worker struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	// tenants defaults to db.ListTenants; acquire to db.AcquireTenant.
	tenants func(ctx context.Context) ([]string, error)
	acquire func(ctx context.Context, tenant string) (context.Context, func(), error)
}

func newWorker(pool *pgxpool.Pool, logger zerolog.Logger) *worker {
	return &worker{
		pool:   pool,
		logger: logger.With().Str("component", "worker").Logger(),
		tenants: func(ctx context.Context) ([]string, error) {
			return db.ListTenants(ctx, pool)
		},
		acquire: func(ctx context.Context, tenant string) (context.Context, func(), error) {
			tctx, conn, err := db.AcquireTenant(ctx, pool, tenant)
			if err != nil {
				return ctx, nil, err
			}
			return tctx, conn.Release, nil
		},
	}
}

// forEachTenant runs job once per tenant. A failing tenant is logged and
// does not stop the others; the joined error is returned.
func (w *worker) forEachTenant(ctx context.Context, name string, job tenantJob) error {
	tenants, err := w.tenants(ctx)
	if err != nil {
		w.logger.Error().Err(err).Str("job", name).Msg("list tenants failed")
		return err
	}
	var errs []error
	for _, t := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := w.runTenant(ctx, t, job)
		if err != nil {
			w.logger.Error().Err(err).Str("job", name).Str("tenant", t).Msg("job failed")
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
			continue
		}
		if n > 0 {
			w.logger.Info().Str("job", name).Str("tenant", t).Int("count", n).Msg("job completed")
		}
	}
	return errors.Join(errs...)
}

func (w *worker) runTenant(ctx context.Context, tenant string, job tenantJob) (int, error) {
	tctx, release, err := w.acquire(ctx, tenant)
	if err != nil {
		return 0, err
	}
	defer release()
	return job(tctx)
}

// deliver adapts a queue job to the tenant it was published for.
func (w *worker) deliver(deliver notification.Handler) notification.Handler {
	return func(ctx context.Context, job notification.Job) error {
		if job.TenantID == "" {
			return fmt.Errorf("job %s has no tenant", job.ReminderID)
		}
		tctx, release, err := w.acquire(ctx, job.TenantID)
		if err != nil {
			return err
		}
		defer release()
		return deliver(tctx, job)
	}
}

type cronJob struct {
	name string
	spec string
	run  tenantJob
}

// schedule registers j on c. Runs use ctx so shutdown interrupts them.
func (w *worker) schedule(ctx context.Context, c *cron.Cron, j cronJob) error {
	_, err := c.AddFunc(j.spec, func() {
		_ = w.forEachTenant(ctx, j.name, j.run)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", j.name, j.spec, err)
	}
	w.logger.Info().Str("job", j.name).Str("spec", j.spec).Msg("job scheduled")
	return nil
}

func runWorker() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, logger, pool, err := bootstrap(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer pool.Close()

	a, err := newApp(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}

	rdb, err := lock.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure redis")
	}
	defer rdb.Close()
	locker := lock.NewRedisLocker(rdb)
	if err := locker.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("redis unreachable")
	}

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to message broker")
	}
	defer conn.Close()
	queue, err := notification.NewQueue(conn, cfg.NotificationQueue, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to declare notification queue")
	}
	defer queue.Close()

	w := newWorker(pool, logger)
	// A tick that arrives while the previous run is still going is skipped.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	jobs := []cronJob{
		{"reminder_dispatch", cfg.ReminderCron, func(ctx context.Context) (int, error) {
			return a.reminders.DispatchDue(ctx, locker, queue)
		}},
		{"credential_sweep", cfg.CredentialCron, a.credentialing.SweepExpired},
	}
	if a.clearinghouse.Enabled() {
		jobs = append(jobs, cronJob{"remittance_poll", cfg.RemittanceCron, a.billing.PollRemittance})
	} else {
		logger.Warn().Msg("CLEARINGHOUSE_URL not set, remittance polling disabled")
	}
	for _, j := range jobs {
		if err := w.schedule(ctx, c, j); err != nil {
			logger.Fatal().Err(err).Msg("invalid schedule")
		}
	}
	c.Start()

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- queue.Consume(ctx, "ehr-worker", w.deliver(a.reminders.Deliver))
	}()
	logger.Info().Str("queue", queue.Name()).Msg("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-consumeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("queue consumer stopped")
		}
	}

	logger.Info().Msg("shutting down worker")
	cancel()
	<-c.Stop().Done()
	logger.Info().Msg("worker stopped")
	return nil
}
