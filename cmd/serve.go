// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/furrow/internal/api"
	"github.com/Thermoquad/furrow/internal/bridge"
	"github.com/Thermoquad/furrow/internal/config"
	"github.com/Thermoquad/furrow/internal/logging"
	"github.com/Thermoquad/furrow/internal/mqttsink"
	"github.com/Thermoquad/furrow/pkg/engine"
	"github.com/Thermoquad/furrow/pkg/events"
	"github.com/Thermoquad/furrow/pkg/faults"
	"github.com/Thermoquad/furrow/pkg/imuframe"
	"github.com/Thermoquad/furrow/pkg/inject"
	"github.com/Thermoquad/furrow/pkg/sensor"
	"github.com/Thermoquad/furrow/pkg/validation"
)

const (
	reconnectDelay  = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the test harness server",
	Long: `Run the route engine in real time behind an HTTP and WebSocket API.

Settings come from the environment (and .env if present):
  PORT, DEBUG, LOG_LEVEL, SIMULATION_UPDATE_RATE, HARDWARE_MODE,
  SNAPSHOT_MAX_AGE, NOISE_SEED, MAP_WIDTH, MAP_HEIGHT, ROUTE_CATALOG,
  SERIAL_PORT, SERIAL_BAUD, DECODER_BUFFER_SIZE, CSV_LOG_PATH,
  EVENT_BUFFER, MQTT_BROKER, MQTT_CLIENT_ID, MQTT_TOPIC_PREFIX

The --port/--baud and --url flags override SERIAL_PORT/SERIAL_BAUD and
connect the hardware bridge. The bridge reconnects after a lost connection.
Events are streamed on /ws and, when MQTT_BROKER is set, mirrored to MQTT.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Command line flags win over the environment
	if portName != "" {
		cfg.SerialPort = portName
	}
	if cmd.Flags().Changed("baud") {
		cfg.SerialBaud = baudRate
	}
	cfg.Debug = cfg.Debug || debug

	logger, err := logging.New(cfg.Debug, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting furrow", zap.String("addr", cfg.Addr()), zap.Bool("hardware_mode", cfg.HardwareMode))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := loadCatalog(cfg.RouteCatalog)
	if err != nil {
		return fmt.Errorf("route catalog: %w", err)
	}

	// Every component publishes here; the hub and MQTT sink subscribe
	bus := events.NewBus()
	defer bus.Close()

	injector := faults.NewInjector(
		faults.WithSeed(cfg.NoiseSeed),
		faults.WithChangeHook(func(p *faults.Profile) {
			bus.Publish(events.FaultProfile{Config: p.Config(), Timestamp: time.Now().UnixMilli()})
		}),
	)
	cell := &sensor.Cell{} // latest hardware snapshot, written by the bridge

	injected := inject.New(inject.WithLogger(logger))
	injected.OnInject(func(ev inject.Event) {
		bus.Publish(events.Injected{Event: ev})
	})

	eng := engine.New(catalog, engine.Config{
		TickPeriod:     cfg.TickPeriod,
		SnapshotMaxAge: cfg.SnapshotMaxAge,
		HardwareMode:   cfg.HardwareMode,
		MapWidth:       cfg.MapWidth,
		MapHeight:      cfg.MapHeight,
		NoiseSeed:      cfg.NoiseSeed,
	}, engine.WithLogger(logger), engine.WithBus(bus), engine.WithSnapshots(cell),
		engine.WithInjector(injected))

	validator := validation.New(validation.WithLogger(logger))

	// Hardware bridge is optional; without it the engine runs synthetic only
	var link *bridge.Bridge
	if cfg.SerialPort != "" || wsURL != "" {
		opts := []bridge.Option{
			bridge.WithLogger(logger),
			bridge.WithBus(bus),
			bridge.WithDecoderOptions(imuframe.WithMaxBuffer(cfg.DecoderBufferSize)),
		}
		if cfg.CSVLogPath != "" {
			rec, err := bridge.CreateCSV(cfg.CSVLogPath)
			if err != nil {
				return err
			}
			defer rec.Close()
			opts = append(opts, bridge.WithRecorder(rec))
		}
		link = bridge.New(injector, cell, opts...)
		go runLink(ctx, logger, link, cfg.SerialPort, cfg.SerialBaud)
	}

	hub := api.NewHub(logger)
	hub.SetInitDataProvider(func() any { return eng.State() })
	go hub.Run(ctx)
	hubEvents, cancelHub := bus.Subscribe(cfg.EventBuffer)
	defer cancelHub()
	go hub.Forward(ctx, hubEvents)

	if cfg.MQTTBroker != "" {
		client, err := mqttsink.Connect(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			return err
		}
		defer mqttsink.Disconnect(client)
		mqttEvents, cancelMQTT := bus.Subscribe(cfg.EventBuffer)
		defer cancelMQTT()
		go mqttsink.New(client, cfg.MQTTTopicPrefix, logger).Run(ctx, mqttEvents)
		logger.Info("Mirroring events to MQTT", zap.String("broker", cfg.MQTTBroker))
	}

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx, engine.TickerScheduler{Period: cfg.TickPeriod}) }()

	handler := api.NewHandler(logger, eng, catalog, injector, injected, validator, link, hub)
	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: api.NewRouter(handler, cfg.Debug),
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	logger.Info("Server started", zap.String("addr", server.Addr))

	// Wait for a signal or a listener failure
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("Server failed", zap.Error(err))
		stop()
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	<-engineDone // engine exits on ctx

	logger.Info("Server exited", zap.Uint64("dropped_events", bus.Dropped()))
	return nil
}

// runLink keeps the hardware bridge connected until ctx is done
func runLink(ctx context.Context, logger *zap.Logger, link *bridge.Bridge, port string, baud int) {
	for {
		conn, info, err := openConnection(port, baud)
		if err != nil {
			logger.Warn("Hardware connection failed", zap.Error(err))
		} else {
			if err := link.Run(ctx, conn, info); err != nil {
				logger.Warn("Hardware link lost", zap.Error(err))
			}
			conn.Close()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}
