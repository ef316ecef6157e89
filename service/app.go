package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"inkwell/app/config"
	"inkwell/app/controllers"
	"inkwell/app/mailer"
	"inkwell/app/metrics"
	"inkwell/app/middleware"
	"inkwell/app/routes"
	"inkwell/app/services"
	"inkwell/app/storage"
	"inkwell/app/tokens"
)

// App is a fully wired blog ready to serve.
type App struct {
	cfg     config.Config
	log     *slog.Logger
	store   *backend
	notify  *mailer.Async
	Handler http.Handler
}

// transport picks the delivery for outgoing mail.
func transport(cfg config.MailConfig, log *slog.Logger) mailer.Sender {
	if cfg.Disabled {
		return mailer.NewLog(log)
	}
	return mailer.NewSMTP(mailer.SMTPConfig{
		Host:       cfg.Host,
		Port:       cfg.Port,
		Username:   cfg.Username,
		Password:   cfg.Password,
		Sender:     cfg.Sender,
		SenderName: "Inkwell",
	})
}

// NewApp opens the store and wires services, controllers and routes.
// Close must be called to release the store and flush pending mail.
func NewApp(cfg config.Config, log *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := openStore(cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	files, err := storage.NewDisk(cfg.Content.PostsDir, cfg.Content.MediaDir)
	if err != nil {
		store.Close()
		return nil, err
	}
	issuer, err := tokens.NewIssuer(cfg.Security.SecretKey, nil)
	if err != nil {
		store.Close()
		return nil, err
	}

	m := metrics.New()
	mail := transport(cfg.Mail, log)
	notify := mailer.NewAsync(mail, cfg.Mail.SendTimeout, log, func(msg mailer.Message, err error) {
		m.Notification(msg.Kind(), err)
	})

	deps := &services.Dependencies{
		Store:  store,
		Files:  files,
		Mail:   mail,
		Notify: notify,
		Tokens: issuer,
		TTLs: services.TokenTTLs{
			Fresh:   cfg.Tokens.FreshTTL,
			Refresh: cfg.Tokens.RefreshTTL,
			Reset:   cfg.Tokens.ResetTTL,
		},
		Authors:           cfg.Blog.Authors,
		AdminAddress:      cfg.Mail.AdminAddress,
		ReservedAddresses: cfg.Mail.ReservedAddresses,
		SenderAddress:     cfg.Mail.Sender,
		PublicURL:         cfg.Server.PublicURL,
		SessionLifetime:   cfg.Security.SessionLifetime,
		Logger:            log,
		Metrics:           m,
	}
	verify := services.NewVerificationService(deps)
	accounts := services.NewAccountService(deps, verify)
	posts := services.NewPostService(deps)

	var limiter *middleware.RateLimiter
	if cfg.Security.LoginRate > 0 {
		limiter = middleware.NewRateLimiter(cfg.Security.LoginRate, cfg.Security.LoginBurst)
	}

	router := routes.SetupRoutes(routes.Controllers{
		Auth:        controllers.NewAuthController(accounts, verify, cfg.Security.SessionCookie, log),
		Posts:       controllers.NewPostController(posts, cfg.Server.MaxUploadBytes, log),
		Comments:    controllers.NewCommentController(services.NewCommentService(deps), log),
		Bookmarks:   controllers.NewBookmarkController(services.NewBookmarkService(deps, posts), log),
		Subscribers: controllers.NewSubscriberController(accounts, log),
		Static:      controllers.NewStaticController(files),
	}, routes.Options{
		Logger:        log,
		Metrics:       m,
		Sessions:      accounts,
		SessionCookie: cfg.Security.SessionCookie,
		Limiter:       limiter,
		Ready:         store.ready,
	})

	return &App{cfg: cfg, log: log, store: store, notify: notify, Handler: router}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
// Badger value log GC runs alongside the server.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("starting blog service", "addr", srv.Addr, "driver", a.cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownGrace)
		defer cancel()
		a.log.Info("shutting down", "grace", a.cfg.Server.ShutdownGrace)
		return srv.Shutdown(shutdownCtx)
	})
	if a.store.badger != nil {
		g.Go(func() error {
			return a.store.badger.RunGC(gctx, a.cfg.Storage.GCInterval, a.log)
		})
	}
	return g.Wait()
}

// Close waits for queued mail and closes the store.
func (a *App) Close() error {
	a.notify.Close()
	return a.store.Close()
}
