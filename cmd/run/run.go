package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/cmd/root"
	"github.com/denysvitali/ampeco-ha/config"
	"github.com/denysvitali/ampeco-ha/hass"
	"github.com/denysvitali/ampeco-ha/metrics"
	"github.com/denysvitali/ampeco-ha/poller"
	"github.com/denysvitali/ampeco-ha/server"
)

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the configured chargers and bridge them to Home Assistant",
	Long: `Run polls every configured charger on an adaptive schedule, publishes its
sensors through MQTT discovery and accepts the start_charging, stop_charging
and update_data commands over MQTT and HTTP.

Without an MQTT broker the entity states are only logged.`,
	Example: `  # Run with the config file
  ampeco-ha run

  # Run against a broker with the HTTP API enabled
  AMPECO_MQTT_BROKER=tcp://localhost:1883 AMPECO_HTTP_LISTEN=:8080 ampeco-ha run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := root.GetConfig()
		if cfg == nil {
			return fmt.Errorf("configuration not loaded")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg)
	},
}

func init() {
	root.RootCmd.AddCommand(RunCmd)
}

func run(ctx context.Context, cfg *config.Config) error {
	log := root.GetLogger()
	collector := metrics.New()

	var publisher hass.Publisher = hass.LogPublisher{Logger: log}
	var broker *hass.MQTT
	if cfg.MQTT.Enabled() {
		broker = hass.NewMQTT(hass.MQTTOptions{
			Broker:          cfg.MQTT.Broker,
			ClientID:        cfg.MQTT.ClientID,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			Timeout:         cfg.Timeout,
		})
		if err := broker.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		defer broker.Close()
		publisher = broker
	} else {
		log.Warn("No MQTT broker configured, entity states are only logged")
	}

	integration := hass.NewIntegration(publisher)

	var coordinators []*poller.Coordinator
	for i := range cfg.Chargers {
		ch := &cfg.Chargers[i]
		client, err := root.NewClient(ch)
		if err != nil {
			return err
		}
		c := poller.New(ch.ChargepointID, client, poller.NewPolicy(cfg.Polling.Intervals()))
		c.AddSink(collector)
		deviceID, err := integration.Add(c)
		if err != nil {
			return err
		}
		log.Infof("Charger %s registered as device %s", ch.ChargepointID, deviceID)
		coordinators = append(coordinators, c)
	}

	if broker != nil {
		if err := integration.RegisterCommands(collector.Instrument(broker)); err != nil {
			return fmt.Errorf("failed to register MQTT commands: %w", err)
		}
	}

	errCh := make(chan error, 1)
	if cfg.HTTP.Listen != "" {
		srv := server.New(integration, collector.Handler())
		if err := integration.RegisterCommands(collector.Instrument(srv)); err != nil {
			return fmt.Errorf("failed to register HTTP commands: %w", err)
		}
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.HTTP.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server failed: %w", err)
			}
		}()
	}

	defer func() {
		for _, c := range coordinators {
			if err := c.Stop(); err != nil {
				log.Warnf("Failed to stop poller for %s: %v", c.ChargepointID(), err)
			}
		}
	}()
	startCoordinators(ctx, coordinators)

	fmt.Printf("Polling %d charger(s). Press Ctrl+C to stop\n", len(coordinators))

	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down...")
		return nil
	case err := <-errCh:
		return err
	}
}

// startCoordinators starts every charger. A failing charger is reported and
// skipped; the others keep polling.
func startCoordinators(ctx context.Context, coordinators []*poller.Coordinator) {
	log := root.GetLogger()
	for _, c := range coordinators {
		err := c.Start(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ampeco.ErrAuth):
			log.Errorf("Charger %s: token rejected, polling suspended until update_data succeeds: %v", c.ChargepointID(), err)
		default:
			log.Errorf("Charger %s: failed to start polling: %v", c.ChargepointID(), err)
		}
	}
}
