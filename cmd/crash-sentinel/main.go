package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Mansoor88-6/crash-sentinel-agent/internal/capture"
	"Mansoor88-6/crash-sentinel-agent/internal/client"
	"Mansoor88-6/crash-sentinel-agent/internal/config"
	"Mansoor88-6/crash-sentinel-agent/internal/connectivity"
	"Mansoor88-6/crash-sentinel-agent/internal/database"
	"Mansoor88-6/crash-sentinel-agent/internal/detector"
	"Mansoor88-6/crash-sentinel-agent/internal/device"
	"Mansoor88-6/crash-sentinel-agent/internal/handler"
	"Mansoor88-6/crash-sentinel-agent/internal/logger"
	"Mansoor88-6/crash-sentinel-agent/internal/notify"
	"Mansoor88-6/crash-sentinel-agent/internal/platform"
	"Mansoor88-6/crash-sentinel-agent/internal/queue"
	"Mansoor88-6/crash-sentinel-agent/internal/repository"
	"Mansoor88-6/crash-sentinel-agent/internal/router"
	"Mansoor88-6/crash-sentinel-agent/internal/sensors"
	"Mansoor88-6/crash-sentinel-agent/internal/server"
	"Mansoor88-6/crash-sentinel-agent/internal/session"

	"go.uber.org/zap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/local.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting crash-sentinel agent",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
		zap.String("agent", device.AgentInfo()),
	)

	// Initialize database
	db, err := database.New(cfg.StoragePath, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	// Platform facts and device identity are resolved once
	platformInstance, err := platform.NewPlatform()
	if err != nil {
		log.Warn("Platform information unavailable", zap.Error(err))
	}
	deviceManager := device.NewDeviceManager(platformInstance)
	deviceID, err := deviceManager.GetOrGenerateDeviceID(cfg.Device.ID)
	if err != nil {
		log.Fatal("Failed to get device ID", zap.Error(err))
	}
	if cfg.Device.ID == "" {
		log.Info("Generated device ID", zap.String("device_id", deviceID))
	} else {
		log.Info("Using configured device ID", zap.String("device_id", deviceID))
	}

	// Probe evidence capabilities
	imageCmd := sensors.SplitCommand(cfg.Sensors.ImageCommand)
	audioCmd := sensors.SplitCommand(cfg.Sensors.AudioCommand)
	alertCmd := sensors.SplitCommand(cfg.Sensors.AlertCommand)
	caps := platform.ProbeCapabilities(platform.CapabilityCommands{
		Camera:     imageCmd,
		Microphone: audioCmd,
		Speaker:    alertCmd,
	})
	log.Info("Evidence capabilities",
		zap.Bool("camera", caps.Camera),
		zap.Bool("microphone", caps.Microphone),
		zap.Bool("speaker", caps.Speaker),
	)
	if !caps.Camera {
		log.Warn("No camera available, confirmed crashes will fail evidence capture")
	}

	locationStore := sensors.NewLocationStore(config.Seconds(cfg.Sensors.LocationTTL), log.Logger)
	defer locationStore.Stop()

	sources := capture.Sources{Location: locationStore}
	if caps.Camera {
		sources.Image = sensors.NewCommandImageSource(imageCmd, log.Logger)
	}
	if caps.Microphone {
		sources.Audio = sensors.NewCommandAudioSource(audioCmd, log.Logger)
	}
	var alerter capture.Alerter
	if caps.Speaker {
		commandAlerter := sensors.NewCommandAlerter(alertCmd, 10*time.Second, log.Logger)
		defer commandAlerter.Stop()
		alerter = commandAlerter
		sources.Alerter = alerter
	}

	capturer := capture.NewCapturer(sources, capture.Config{
		GraceDelay:      config.Millis(cfg.Capture.GraceDelayMs),
		ImageTimeout:    config.Millis(cfg.Capture.ImageTimeoutMs),
		LocationTimeout: config.Millis(cfg.Capture.LocationTimeoutMs),
		AudioDuration:   config.Millis(cfg.Capture.AudioDurationMs),
		AudioTimeout:    config.Millis(cfg.Capture.AudioTimeoutMs),
	}, device.AgentInfo(), deviceManager.DeviceInfo(cfg.Device.Name), log.Logger)

	// Initialize API client
	apiClient := client.NewAPIClient(
		cfg.Backend.BaseURL,
		cfg.Backend.APIKey,
		deviceID,
		config.Seconds(cfg.Backend.Timeout),
		log.Logger,
	)
	if cfg.Backend.DeviceToken != "" {
		apiClient.SetDeviceToken(cfg.Backend.DeviceToken)
	}

	durableQueue := queue.NewDurableQueue(db.DB, cfg.Queue.MaxAttempts, log.Logger)
	recordRepo := repository.NewRecordRepository(db.DB)
	notifier := notify.NewLogNotifier(cfg.Server.NoticeLimit, log.Logger)

	monitoringSession := session.New(session.Config{
		BufferCapacity:    cfg.Detection.BufferCapacity,
		IntakeBuffer:      cfg.Sensors.MotionBufferSize,
		CountdownDuration: config.Millis(cfg.Session.CountdownMs),
		DispatchTimeout:   config.Millis(cfg.Session.DispatchTimeoutMs),
		DrainInterval:     config.Seconds(cfg.Queue.DrainInterval),
	}, session.Deps{
		Detector: detector.New(detector.Config{
			SustainedWindow:   config.Millis(cfg.Detection.SustainedWindowMs),
			HighGThreshold:    cfg.Detection.HighGThreshold,
			MinHighGSamples:   cfg.Detection.MinHighGSamples,
			MinWindowSamples:  cfg.Detection.MinWindowSamples,
			RotationThreshold: cfg.Detection.RotationThreshold,
		}),
		Capturer:   capturer,
		Records:    recordRepo,
		Dispatcher: apiClient,
		Queue:      durableQueue,
		Notifier:   notifier,
		Alerter:    alerter,
	}, log.Logger)
	defer monitoringSession.Close()

	if latest, err := recordRepo.Latest(context.Background()); err == nil {
		log.Info("Last sealed record on device", zap.String("event_id", latest.EventID))
	}

	// Connectivity drives queue draining
	monitor := connectivity.NewMonitor(
		apiClient,
		config.Seconds(cfg.Connectivity.PollInterval),
		config.Seconds(cfg.Connectivity.ProbeTimeout),
		log.Logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitoringSession.Start(ctx); err != nil {
		log.Error("Failed to start monitoring session", zap.Error(err))
	}
	if err := monitor.Start(monitoringSession.SetOnline); err != nil {
		log.Fatal("Failed to start connectivity monitor", zap.Error(err))
	}

	// Motion intake
	motionFeed := sensors.NewMotionFeed(log.Logger)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := monitoringSession.Run(ctx, motionFeed); err != nil {
			log.Error("Motion processing stopped", zap.Error(err))
		}
	}()

	// Local control API
	var httpServer *http.Server
	if cfg.Server.Enabled {
		h := router.New(
			handler.NewSessionHandler(monitoringSession, recordRepo, notifier, log.Logger),
			server.NewSensorServer(motionFeed, locationStore, log.Logger),
			router.Options{AllowedOrigins: cfg.Server.AllowedOrigins},
			log.Logger,
		)

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		httpServer = &http.Server{
			Addr:         addr,
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			log.Info("Starting control API", zap.String("address", addr))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Control API error", zap.Error(err))
			}
		}()
	} else {
		log.Info("Control API disabled in configuration")
	}

	log.Info("Crash-sentinel agent started successfully",
		zap.String("device_id", deviceID),
		zap.String("backend_url", cfg.Backend.BaseURL),
	)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Control API shutdown error", zap.Error(err))
		} else {
			log.Info("Control API stopped")
		}
	}

	monitor.Stop()
	cancel()

	select {
	case <-runDone:
	case <-time.After(3 * time.Second):
		log.Warn("Shutdown timeout reached waiting for motion processing")
	}

	if size, err := durableQueue.Size(context.Background()); err == nil && size > 0 {
		log.Info("Items left in durability queue for next start", zap.Int("count", size))
	}
	log.Info("Crash-sentinel agent stopped")
}
