package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"facebooth-go/config"
	"facebooth-go/internal/api"
	"facebooth-go/internal/api/handlers"
	"facebooth-go/internal/core/gate"
	"facebooth-go/internal/core/models"
	"facebooth-go/internal/core/processor"
	"facebooth-go/internal/db"
	"facebooth-go/internal/db/repository"
	"facebooth-go/internal/integrations/homeassistant"
	"facebooth-go/internal/integrations/matcher"
	"facebooth-go/internal/integrations/mqtt"
	"facebooth-go/internal/integrations/opencv"
	"facebooth-go/internal/locale"
	"facebooth-go/internal/logger"
	"facebooth-go/internal/services"
	"facebooth-go/internal/services/cleanup"
	"facebooth-go/internal/services/reset"
	"facebooth-go/internal/sse"
	"facebooth-go/internal/util/timezone"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "facebooth",
	Short: "Face-tracking photo booth kiosk",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, configPath)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/config/config.yaml", "Path to the config file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}
	defer logger.Close()

	timezone.Initialize(cfg.Server.Timezone)

	log.Info("Initializing database...")
	database, err := db.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close(database)
	repo := repository.NewSQLiteRepository(database)

	translator, err := locale.NewTranslator(cfg.I18n)
	if err != nil {
		return fmt.Errorf("failed to load translations: %w", err)
	}

	hub := sse.NewHub()
	go hub.Run(ctx)

	notifier := services.NewNotifierService(256)
	notifier.SetCaptioner(translator, translator.DefaultLanguage())
	notifier.Subscribe("sse", services.EventHandlerFunc(func(_ context.Context, ev models.Event) {
		hub.BroadcastEvent(ev)
	}))
	notifier.Subscribe("history", services.NewHistoryService(repo))

	backend, err := matcher.NewProvider(cfg)
	if err != nil {
		return err
	}
	gridCtx, cancelGrid := context.WithTimeout(ctx, 10*time.Second)
	if err := backend.GridInfo(gridCtx, cfg.Tracking.NumVids); err != nil {
		log.WithError(err).Warn("Failed to send grid info to backend")
	}
	cancelGrid()

	vision, err := opencv.NewService(cfg.OpenCV)
	if err != nil {
		return err
	}
	defer vision.Close()

	cell := config.NewCell(cfg.Tracking)
	booth := processor.New(cell, vision.Detector, backend, notifier, processor.Options{
		SessionID:     uuid.NewString(),
		FrameInterval: time.Duration(cfg.OpenCV.FrameIntervalMS) * time.Millisecond,
		Gate: gate.Options{
			Workers:      cfg.Backend.Workers,
			QueueSize:    cfg.Backend.QueueSize,
			Timeout:      time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
			DrainTimeout: 3 * time.Second,
		},
	})

	if cfg.MQTT.Enabled {
		mqttClient := mqtt.NewClient(cfg.MQTT)
		mqttClient.RegisterHandler("reset", mqtt.MessageHandlerFunc(func(topic string, _ []byte) {
			if !booth.RequestReset(models.ReasonManual) {
				log.Debugf("Reset via %s ignored, one is already pending", topic)
			}
		}))
		if err := mqttClient.Start(); err != nil {
			log.Warnf("Failed to start MQTT client: %v. Continuing without MQTT.", err)
		} else {
			defer mqttClient.Stop()
			if cfg.MQTT.HomeAssistant.Enabled {
				discovery := homeassistant.NewDiscoveryManager(mqttClient, cfg.MQTT.HomeAssistant, version)
				if err := discovery.RegisterSensors(); err != nil {
					log.WithError(err).Warn("Home Assistant discovery failed")
				}
			}
			notifier.Subscribe("homeassistant", homeassistant.NewPublisher(mqttClient))
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	// Stop drains the buffer, so the last face_ended event still reaches the history
	notifier.Start(context.WithoutCancel(ctx))
	defer notifier.Stop()

	resets := reset.NewService(cell, booth)
	resets.Start()
	defer resets.Stop()

	cleanupService := cleanup.NewCleanupService(repo, cfg.Cleanup, filepath.Join(cfg.Backend.LocalSpriteDir, "captures"))
	go cleanupService.Start(ctx)

	router := api.NewRouter(cfg.Server, translator,
		handlers.NewAPIHandler(cell, booth, repo, translator, notifier),
		handlers.NewSystemHandler(booth, version),
		handlers.NewEventHandler(hub, translator),
	)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- booth.Run(ctx, vision.Camera)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown requested")
	case runErr = <-serverErr:
		if runErr != nil {
			log.WithError(runErr).Error("Server failed")
		}
		cancel()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Server shutdown incomplete")
	}

	if err := <-loopErr; err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Frame loop stopped with error")
	}

	log.Info("Server stopped.")
	return runErr
}
