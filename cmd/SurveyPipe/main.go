// Command SurveyPipe runs the survey bot: the chat transport, the message router with
// the admin and survey engines, the scheduled jobs and the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/BTreeMap/SurveyPipe/internal/admin"
	"github.com/BTreeMap/SurveyPipe/internal/api"
	"github.com/BTreeMap/SurveyPipe/internal/broadcast"
	"github.com/BTreeMap/SurveyPipe/internal/genai"
	"github.com/BTreeMap/SurveyPipe/internal/lockfile"
	"github.com/BTreeMap/SurveyPipe/internal/messaging"
	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/report"
	"github.com/BTreeMap/SurveyPipe/internal/router"
	"github.com/BTreeMap/SurveyPipe/internal/scheduler"
	"github.com/BTreeMap/SurveyPipe/internal/session"
	"github.com/BTreeMap/SurveyPipe/internal/store"
	"github.com/BTreeMap/SurveyPipe/internal/survey"
	"github.com/BTreeMap/SurveyPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/SurveyPipe/internal/whatsapp"
	"github.com/BTreeMap/SurveyPipe/internal/worker"
)

func main() {
	initializeLogger()

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping SurveyPipe", "transport", cfg.Transport, "tz", cfg.Location.String())
	if err := run(ctx, cfg); err != nil {
		slog.Error("SurveyPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SurveyPipe exited successfully")
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// app is the wired set of components behind one transport.
type app struct {
	cfg       Config
	st        store.Store
	msg       messaging.Service
	pool      *worker.Pool
	sessions  *session.Store
	surveys   *survey.Engine
	admin     *admin.Engine
	broadcast *broadcast.Orchestrator
	reporter  *report.Generator
	router    *router.Router
}

// newApp wires every component on top of st and msg. Nothing is started.
func newApp(cfg Config, st store.Store, msg messaging.Service) (*app, error) {
	catalog := survey.DefaultCatalog()
	if cfg.CatalogFile != "" {
		loaded, err := survey.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load question catalog: %w", err)
		}
		catalog = loaded
	}
	slog.Info("Question catalog ready", "questions", catalog.Len(), "file", cfg.CatalogFile)

	pool := worker.NewPool(worker.WithWorkers(cfg.WorkerCount))
	sessions := session.NewStore(st)
	surveys := survey.NewEngine(sessions, catalog, msg, st, survey.WithExecutor(pool))
	orchestrator := broadcast.NewOrchestrator(st, sessions, surveys, broadcast.WithConcurrency(cfg.BroadcastConcurrency))
	reporter := report.NewGenerator(st, catalog, cfg.ReportsDir())

	adminEngine, err := admin.NewEngine(sessions, msg, cfg.AdminPassword,
		admin.WithReporter(reporter),
		admin.WithBroadcaster(orchestrator),
		admin.WithExecutor(pool),
		admin.WithAdminIDs(cfg.AdminIDs),
		admin.WithLockoutDuration(cfg.LockoutDuration),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin engine: %w", err)
	}

	gen, err := buildGenerator(cfg)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		st:        st,
		msg:       msg,
		pool:      pool,
		sessions:  sessions,
		surveys:   surveys,
		admin:     adminEngine,
		broadcast: orchestrator,
		reporter:  reporter,
		router:    router.NewRouter(sessions, adminEngine, surveys, genai.NewResponder(gen), msg),
	}, nil
}

// buildGenerator returns nil when no OpenAI key is configured; the responder then
// answers free text with a fixed reply.
func buildGenerator(cfg Config) (genai.Generator, error) {
	if cfg.OpenAIKey == "" {
		slog.Info("OPENAI_API_KEY not set, free-form replies disabled")
		return nil, nil
	}
	opts := []genai.Option{genai.WithAPIKey(cfg.OpenAIKey)}
	if cfg.OpenAIModel != "" {
		opts = append(opts, genai.WithModel(cfg.OpenAIModel))
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

// start launches the worker pool, the transport and the router.
func (a *app) start(ctx context.Context) error {
	// The signal does not cancel pool tasks; Stop drains them.
	a.pool.Start(context.WithoutCancel(ctx))
	if err := a.msg.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	a.router.Start(ctx, a.msg.Responses())
	return nil
}

// schedule registers the daily report and, when configured, the survey broadcast.
func (a *app) schedule(s *scheduler.Scheduler) error {
	if err := s.AddJob("daily-report", a.cfg.ReportCron, func(ctx context.Context) {
		a.reporter.ProcessAllData(ctx)
	}); err != nil {
		return err
	}
	if a.cfg.SurveyCron == "" {
		return nil
	}
	return s.AddJob("survey-broadcast", a.cfg.SurveyCron, func(ctx context.Context) {
		attempted, succeeded := a.broadcast.RunBroadcast(ctx, a.cfg.AdminIDs)
		slog.Info("Scheduled survey broadcast finished", "attempted", attempted, "succeeded", succeeded)
	})
}

// shutdown drains the router and the worker pool before stopping the transport.
func (a *app) shutdown() {
	a.router.Wait()
	a.pool.Stop()
	if err := a.msg.Stop(); err != nil {
		slog.Error("Failed to stop messaging service", "error", err)
	}
}

// drainReceipts persists delivery receipts until the channel closes.
func drainReceipts(receipts <-chan models.Receipt, st store.Store, done chan<- struct{}) {
	defer close(done)
	for r := range receipts {
		if err := st.AddReceipt(r); err != nil {
			slog.Error("Failed to store receipt", "error", err, "to", r.To)
		}
	}
}

func buildTransport(ctx context.Context, cfg Config) (messaging.Service, http.HandlerFunc, error) {
	if cfg.Transport == TransportTwilio {
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFromNumber),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if cfg.TwilioWebhookURL != "" {
			opts = append(opts, messaging.WithSignatureValidation(cfg.TwilioAuthToken, cfg.TwilioWebhookURL))
		} else {
			slog.Warn("TWILIO_WEBHOOK_URL not set, webhook signatures are not verified")
		}
		svc := messaging.NewTwilioService(client, opts...)
		return svc, svc.TwilioWebhookHandler, nil
	}

	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDSN)}
	if cfg.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.QROutput))
	}
	if cfg.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	client, err := whatsapp.NewClient(ctx, waOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
	}
	return messaging.NewWhatsAppService(client), nil, nil
}

// run owns the process lifetime: it holds the state directory lock, serves until ctx is
// cancelled and then shuts everything down in order.
func run(ctx context.Context, cfg Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	msg, twilioWebhook, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, st, msg)
	if err != nil {
		return err
	}
	receiptsDone := make(chan struct{})
	go drainReceipts(msg.Receipts(), st, receiptsDone)

	if err := a.start(ctx); err != nil {
		cancel()
		a.shutdown()
		<-receiptsDone
		return err
	}

	sched := scheduler.NewScheduler(scheduler.WithLocation(cfg.Location))
	if err := a.schedule(sched); err != nil {
		cancel()
		sched.Stop()
		a.shutdown()
		<-receiptsDone
		return err
	}

	apiOpts := []api.Option{api.WithAddr(cfg.APIAddr)}
	if twilioWebhook != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(twilioWebhook))
	}
	if mem, ok := st.(*store.InMemoryStore); ok {
		apiOpts = append(apiOpts, api.WithActiveSessions(func() int { return len(mem.SessionKeys()) }))
	}
	serveErr := api.NewServer(st, apiOpts...).Run(ctx)

	slog.Info("SurveyPipe shutting down")
	cancel()
	sched.Stop()
	a.shutdown()
	<-receiptsDone
	return serveErr
}
