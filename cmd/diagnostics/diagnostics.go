package diagnostics

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/cmd/root"
	"github.com/denysvitali/ampeco-ha/config"
	"github.com/denysvitali/ampeco-ha/hass"
)

var chargepointID string

// Report is the diagnostics dump. Secrets in Config are masked.
type Report struct {
	GeneratedAt time.Time            `yaml:"generated_at"`
	Config      *config.Config       `yaml:"config"`
	Device      hass.Device          `yaml:"device"`
	State       *ampeco.ChargerState `yaml:"state,omitempty"`
	Error       string               `yaml:"error,omitempty"`
}

var DiagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Dump the redacted configuration and the current charger state",
	Long: `Print a YAML report with the configuration (secrets masked), the device
information and a fresh snapshot of the charger, for attaching to bug reports.`,
	Example: `  # Dump diagnostics for the configured charger
  ampeco-ha diagnostics > diagnostics.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, client, err := root.Charger(chargepointID)
		if err != nil {
			return err
		}

		report := Report{
			GeneratedAt: time.Now().UTC(),
			Config:      root.GetConfig().Redact(),
		}
		state, err := client.FetchState(cmd.Context(), ch.ChargepointID)
		if err != nil {
			// a failing charger is what diagnostics are for
			report.Error = err.Error()
		}
		report.State = RedactState(state)
		report.Device = RedactDevice(hass.NewDevice(ch.ChargepointID, state))

		out, err := yaml.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	DiagnosticsCmd.Flags().StringVar(&chargepointID, "chargepoint-id", "", "Charge point ID")

	root.RootCmd.AddCommand(DiagnosticsCmd)
}

// RedactState returns a copy of s with identifying fields masked.
func RedactState(s *ampeco.ChargerState) *ampeco.ChargerState {
	if s == nil {
		return nil
	}
	out := *s
	out.ChargepointID = config.Mask(s.ChargepointID)
	out.Name = config.Mask(s.Name)
	out.EVSEID = config.Mask(s.EVSEID)
	if s.Session != nil {
		session := *s.Session
		session.ID = config.Mask(session.ID)
		out.Session = &session
	}
	return &out
}

// RedactDevice masks the chargepoint id, which the name and the
// configuration URL may carry too.
func RedactDevice(d hass.Device) hass.Device {
	d.ChargepointID = config.Mask(d.ChargepointID)
	d.Name = config.Mask(d.Name)
	d.ConfigurationURL = config.Mask(d.ConfigurationURL)
	return d
}
