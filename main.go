package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"invitecanvas/assets"
	"invitecanvas/config"
	"invitecanvas/editor"
	"invitecanvas/export"
	"invitecanvas/handlers/api/exports"
	"invitecanvas/handlers/api/guests"
	"invitecanvas/handlers/api/templates"
	"invitecanvas/handlers/auth"
	"invitecanvas/handlers/websocket"
	authMiddleware "invitecanvas/middleware"
	"invitecanvas/notify"
	"invitecanvas/pipeline"
	"invitecanvas/preview"
	"invitecanvas/render"
	"invitecanvas/stores"
)

// shutdownTimeout bounds how long running jobs get to stop.
const shutdownTimeout = 30 * time.Second

// pruneInterval is how often idle editor sessions are looked for.
const pruneInterval = time.Minute

type app struct {
	store    stores.Store
	sessions *editor.Registry
	jobs     *export.Jobs
	pipeline *pipeline.Pipeline
	exporter *export.Exporter
	sender   *export.Sender
}

func newPipeline(cfg config.Config, fonts *render.FontBook) *pipeline.Pipeline {
	loader := assets.NewCache(assets.NewHTTPLoader(cfg.AssetTimeout), cfg.AssetCacheSize)

	var qr assets.QRGenerator
	switch cfg.QRProvider {
	case config.QRProviderLocal:
		qr = assets.NewLocalQR(cfg.QRSize)
	default:
		qr = assets.NewHTTPQR(cfg.QRServiceURL, cfg.QRSize, loader)
	}
	logrus.WithFields(logrus.Fields{
		"provider": cfg.QRProvider,
		"size":     cfg.QRSize,
	}).Info("QR generator configured")

	return pipeline.New(
		pipeline.WithResolver(assets.NewResolver(qr, loader, cfg.AssetConcurrency)),
		pipeline.WithRenderer(render.NewRenderer(fonts)),
	)
}

func setupRouter(cfg config.Config, a *app) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Asset-Failures"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/api/v2", func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", templates.HandleListTemplates(a.store))
			r.Route("/{key}", func(r chi.Router) {
				r.Get("/", templates.HandleGetTemplate(a.store))
				r.Put("/", templates.HandleSaveTemplate(a.store, a.sessions))
				r.Delete("/", templates.HandleDeleteTemplate(a.store, a.sessions))
				r.Post("/crop", templates.HandleCrop(a.store, a.sessions))

				r.Route("/guests", func(r chi.Router) {
					r.Get("/", guests.HandleListGuests(a.store))
					r.Post("/", guests.HandleCreateGuest(a.store))
					r.Put("/{guestID}/status", guests.HandleUpdateStatus(a.store))
					r.Delete("/{guestID}", guests.HandleDeleteGuest(a.store))
				})

				r.Get("/preview/{guestID}", exports.HandlePreview(a.store, a.sessions, a.pipeline))
				r.Post("/exports", exports.HandleStartExport(a.store, a.sessions, a.jobs, a.exporter))
				r.Post("/sends", exports.HandleStartSend(a.store, a.sessions, a.jobs, a.sender))
			})
		})

		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", exports.HandleGetJob(a.jobs))
			r.Delete("/", exports.HandleCancelJob(a.jobs))
			r.Get("/archive", exports.HandleGetArchive(a.jobs))
		})
	})

	if cfg.DevTokens && cfg.JWTSecret != "" {
		logrus.Warn("Development tokens are enabled on /auth/token")
		r.Get("/auth/token", auth.HandleDevToken())
	}

	return r
}

func waitForShutdown(srv *http.Server, hub *websocket.Hub, jobs *export.Jobs) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	<-ctx.Done()

	logrus.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := jobs.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Jobs did not stop in time")
	}
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("HTTP server shutdown failed")
	}
}

func main() {
	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	envFile := flag.String("env", ".env", "Optional dotenv file.")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load(*envFile)
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	auth.Init(cfg.JWTSecret)
	store := stores.GetStore(cfg)

	fonts, err := render.NewFontBook()
	if err != nil {
		logrus.Fatalf("Failed to load fonts: %v", err)
	}
	pipe := newPipeline(cfg, fonts)

	sender := export.NewSender(pipe, notify.LogMailer{}, store)
	sender.Subject = cfg.MailSubject

	jobs := export.NewJobs()
	jobs.RetainFor = cfg.JobRetention

	a := &app{
		store:    store,
		sessions: editor.NewRegistry(store),
		jobs:     jobs,
		pipeline: pipe,
		exporter: export.NewExporter(pipe, cfg.ExportFolder),
		sender:   sender,
	}

	pruneCtx, stopPrune := context.WithCancel(context.Background())
	defer stopPrune()
	go a.sessions.PruneEvery(pruneCtx, pruneInterval, cfg.SessionIdle)

	hub := websocket.NewHub(a.jobs, a.sessions, store, func() *preview.Controller {
		return preview.NewController(pipe, fonts)
	})

	r := setupRouter(cfg, a)
	r.Mount("/socket.io/", hub.Server().ServeHandler(nil))

	srv := &http.Server{Addr: *listenAddress, Handler: r}
	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(srv, hub, a.jobs)
}
