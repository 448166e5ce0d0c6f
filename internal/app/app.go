package app

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Runner is a long-lived component that stops when its context is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Config holds the assembled components.
type Config struct {
	Addr            string
	Handler         http.Handler
	ShutdownTimeout time.Duration
	// Bot is optional.
	Bot Runner
}

// App runs the HTTP server and the optional bot until the context is cancelled
// or one of them fails.
type App struct {
	config Config
	server *http.Server
}

func New(c Config) *App {
	return &App{
		config: c,
		server: &http.Server{
			Addr:              c.Addr,
			Handler:           c.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		klog.Infof("Starting API server on %s", a.config.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "api server failed")
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		klog.Info("Shutting down API server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()

		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "api server shutdown")
		}
		return nil
	})

	if a.config.Bot != nil {
		g.Go(func() error {
			if err := a.config.Bot.Run(ctx); err != nil {
				return errors.Wrap(err, "telegram bot failed")
			}
			return nil
		})
	}

	return g.Wait()
}
