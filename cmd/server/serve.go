package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/Brownie44l1/leaf-api/internal/app"
	"github.com/Brownie44l1/leaf-api/internal/bot"
	"github.com/Brownie44l1/leaf-api/internal/handlers"
	"github.com/Brownie44l1/leaf-api/internal/imaging"
	"github.com/Brownie44l1/leaf-api/internal/model"
	"github.com/Brownie44l1/leaf-api/internal/options"
)

func newServeCmd(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the model and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return errors.Wrap(err, "invalid options")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, opts)
		},
	}
}

func runServer(ctx context.Context, opts *options.Options) error {
	modelConfig, err := opts.Model.ServerConfig()
	if err != nil {
		return err
	}

	klog.Infof("Loading model: weights=%s backbone=%s device=%s resize=%s",
		modelConfig.WeightsPath, modelConfig.BackbonePath, modelConfig.Device, imaging.Backend)

	modelServer, err := model.NewServer(modelConfig)
	if err != nil {
		return errors.Wrap(err, "failed to initialize model server")
	}
	defer modelServer.Close()

	gin.SetMode(opts.API.GinMode)
	router := handlers.NewRouter(&handlers.Dependencies{
		Predictor:      modelServer,
		FrontendDir:    opts.API.FrontendDir,
		MaxUploadBytes: opts.API.MaxUploadBytes,
	})

	c := app.Config{
		Addr:            opts.Server.Addr(),
		Handler:         router,
		ShutdownTimeout: opts.Server.ShutdownTimeout,
	}

	if opts.Bot.Enabled() {
		b, err := bot.NewBot(opts.Bot.TelegramToken, modelServer)
		if err != nil {
			return err
		}
		c.Bot = b
	}

	klog.Infof("Classes: %v", model.Classes())
	klog.Info("Endpoints: GET /health, GET /classes, POST /predict, GET /api, GET /frontend/")

	return app.New(c).Run(ctx)
}
