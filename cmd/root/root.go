package root

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/config"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	log      = logrus.StandardLogger()
)

var RootCmd = &cobra.Command{
	Use:   "ampeco-ha",
	Short: "Bridge AMPECO EV chargers to Home Assistant",
	Long: `ampeco-ha polls AMPECO EV chargers, publishes their state as Home Assistant
entities over MQTT discovery and forwards start/stop charging commands.

The bearer token is taken from the AMPECO app; the login flow is not automated.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setLogLevel(); err != nil {
			return err
		}

		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/ampeco-ha/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", RootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", RootCmd.PersistentFlags().Lookup("log-level"))

	viper.SetEnvPrefix("AMPECO")
	viper.AutomaticEnv()
}

func initConfig() error {
	configPath := GetConfigPath()

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log.Debug("No config file found, using defaults and environment variables")
		cfg = &config.Config{}
	} else {
		log.Debugf("Using config file: %s", configPath)
	}

	// AMPECO_TOKEN, AMPECO_API_HOST, ...
	if viper.IsSet("token") {
		cfg.Token = viper.GetString("token")
	}
	if viper.IsSet("api_host") {
		cfg.APIHost = viper.GetString("api_host")
	}
	if viper.IsSet("chargepoint_id") {
		id := viper.GetString("chargepoint_id")
		if _, err := cfg.Charger(id); err != nil {
			cfg.Chargers = append(cfg.Chargers, config.ChargerConfig{ChargepointID: id})
		}
	}
	if viper.IsSet("mqtt_broker") {
		cfg.MQTT.Broker = viper.GetString("mqtt_broker")
	}
	if viper.IsSet("mqtt_username") {
		cfg.MQTT.Username = viper.GetString("mqtt_username")
	}
	if viper.IsSet("mqtt_password") {
		cfg.MQTT.Password = viper.GetString("mqtt_password")
	}
	if viper.IsSet("http_listen") {
		cfg.HTTP.Listen = viper.GetString("http_listen")
	}

	cfg.ApplyDefaults()
	return nil
}

func setLogLevel() error {
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %s", logLevel)
	}
	log.SetLevel(lvl)
	return nil
}

func Execute() error {
	return RootCmd.Execute()
}

func GetConfig() *config.Config {
	return cfg
}

func GetLogger() *logrus.Logger {
	return log
}

// NewClient builds an API client for one configured charger.
func NewClient(ch *config.ChargerConfig) (*ampeco.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	client, err := ampeco.New(ampeco.Options{
		Host:    ch.APIHost,
		Token:   ch.Token,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AMPECO client for %s: %w", ch.ChargepointID, err)
	}
	return client, nil
}

// Charger resolves --chargepoint-id (or the only configured charger) and
// returns it with a ready client.
func Charger(chargepointID string) (*config.ChargerConfig, *ampeco.Client, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("configuration not loaded")
	}
	ch, err := cfg.Charger(chargepointID)
	if err != nil {
		return nil, nil, err
	}
	client, err := NewClient(ch)
	if err != nil {
		return nil, nil, err
	}
	return ch, client, nil
}

// AccountClient returns a client with the top-level token, for calls that
// are not about one charger.
func AccountClient() (*ampeco.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	token := cfg.Token
	host := cfg.APIHost
	if token == "" && len(cfg.Chargers) > 0 {
		token = cfg.Chargers[0].Token
		host = cfg.Chargers[0].APIHost
	}
	return NewClient(&config.ChargerConfig{ChargepointID: "account", Token: token, APIHost: host})
}

func GetConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}
