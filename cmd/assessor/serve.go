package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/assessor/internal/bank"
	"github.com/pavelanni/assessor/internal/config"
	"github.com/pavelanni/assessor/internal/handler"
	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/llm"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/notify"
	"github.com/pavelanni/assessor/internal/scoring"
	"github.com/pavelanni/assessor/internal/session"
	"github.com/pavelanni/assessor/internal/store"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP assessment server",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("bank", "b", "", "Question bank file, JSON or YAML (default: embedded bank)")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /apply)")
	f.Bool("secure-cookies", true, "Set Secure flag on admin cookies")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins for the API (repeatable)")
	f.String("admin-password", "", "Initial admin password (or set ASSESSOR_ADMIN_PASSWORD)")
	f.Duration("auth-ttl", 12*time.Hour, "Admin login lifetime")
	f.Duration("autosave-interval", 15*time.Second, "Session snapshot interval")
	f.String("webhook-url", "", "Discord-compatible webhook for alerts and reports")
	f.String("redis-url", "", "Redis URL for the alert queue (e.g. redis://localhost:6379/0)")
	f.String("redis-prefix", "assessor", "Key prefix for the redis alert queue")
	f.Duration("notify-timeout", 10*time.Second, "Timeout for each notifier call")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL for the reviewer")
	f.String("llm-key", "ollama", "API key for the reviewer")
	f.String("llm-model", "", "Reviewer model name (empty disables reviewer notes)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	b, err := loadBank(db, v.GetString("bank"))
	if err != nil {
		return fmt.Errorf("load question bank: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	engine, err := scoring.New(settings.Rules, settings.Grades)
	if err != nil {
		return fmt.Errorf("create scoring engine: %w", err)
	}

	sinks, closeSinks, err := buildNotifier(ctx, v)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}
	defer closeSinks()
	alerts := notify.NewAsync(sinks, v.GetDuration("notify-timeout"))

	deps := session.Deps{
		Bank:      b,
		Engine:    engine,
		Integrity: settings.Integrity,
		Notifier:  alerts,
		Recorder:  db,
	}
	if reviewer := buildReviewer(ctx, v); reviewer != nil {
		deps.Reviewer = reviewer
	}
	manager := session.NewManager(settings.Session, deps, db)

	autosaveDone := make(chan struct{})
	go func() {
		defer close(autosaveDone)
		session.NewAutosaver(manager, v.GetDuration("autosave-interval")).Run(ctx)
	}()
	go cleanupAuthSessions(ctx, db, time.Hour)

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	h := handler.New(manager, b, db, handler.Config{
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		AuthTTL:       v.GetDuration("auth-ttl"),
		MaxSkips:      settings.Session.MaxSkips,
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if basePath != "" {
		r.Route(basePath, h.Routes)
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		h.Routes(r)
	}

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("starting server",
		"addr", srv.Addr,
		"lang", lang,
		"questions", b.Len(),
		"max_skips", settings.Session.MaxSkips,
		"reviewer", deps.Reviewer != nil,
		"base_path", basePath,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			stop()
			<-autosaveDone
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	<-autosaveDone
	if err := alerts.Close(shutdownCtx); err != nil {
		slog.Warn("pending alerts dropped", "error", err)
	}
	return nil
}

// loadBank reads the configured bank and records its fingerprint. A bank
// that differs from the one recorded earlier is allowed but logged, since
// stored snapshots index questions by position.
func loadBank(db *store.Store, path string) (*bank.Bank, error) {
	var (
		b      *bank.Bank
		err    error
		source = path
	)
	if path == "" {
		source = "embedded"
		b, err = bank.Default()
	} else {
		b, err = bank.Load(path)
	}
	if err != nil {
		return nil, err
	}

	prev, err := db.GetBankInfo()
	if err != nil {
		return nil, fmt.Errorf("read bank info: %w", err)
	}
	if prev.Hash != "" && prev.Hash != b.Hash() {
		slog.Warn("question bank changed since sessions were stored",
			"previous_source", prev.Source, "previous_questions", prev.NumQuestions,
			"source", source, "questions", b.Len())
	}
	info := model.BankInfo{Hash: b.Hash(), Source: source, NumQuestions: b.Len()}
	if err := db.SetBankInfo(info); err != nil {
		return nil, fmt.Errorf("record bank info: %w", err)
	}
	slog.Info("loaded question bank", "source", source, "questions", b.Len(), "points", b.TotalPoints())
	return b, nil
}

// buildNotifier assembles the configured sinks. The log sink is always on.
func buildNotifier(ctx context.Context, v *viper.Viper) (notify.Notifier, func(), error) {
	sinks := notify.Multi{notify.Log{}}
	closeFn := func() {}

	if url := v.GetString("webhook-url"); url != "" {
		sinks = append(sinks, notify.NewWebhook(url, "Assessor", &http.Client{Timeout: v.GetDuration("notify-timeout")}))
		slog.Info("webhook notifier enabled")
	}
	if url := v.GetString("redis-url"); url != "" {
		rdb, err := notify.NewRedisClient(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, notify.NewRedis(rdb, v.GetString("redis-prefix")))
		closeFn = func() {
			if err := rdb.Close(); err != nil {
				slog.Warn("close redis", "error", err)
			}
		}
		slog.Info("redis notifier enabled", "prefix", v.GetString("redis-prefix"))
	}
	return sinks, closeFn, nil
}

// buildReviewer returns nil when no model is configured or the endpoint
// does not answer. Reviewer notes are optional.
func buildReviewer(ctx context.Context, v *viper.Viper) *llm.Client {
	modelName := v.GetString("llm-model")
	if modelName == "" {
		return nil
	}
	c := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), modelName)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		slog.Warn("reviewer unavailable, continuing without notes", "url", v.GetString("llm-url"), "error", err)
		return nil
	}
	slog.Info("reviewer endpoint OK", "url", v.GetString("llm-url"), "model", modelName)
	return c
}

func cleanupAuthSessions(ctx context.Context, db *store.Store, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		n, err := db.CleanupExpiredSessions(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Warn("cleanup expired logins", "error", err)
		} else if n > 0 {
			slog.Info("removed expired logins", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
