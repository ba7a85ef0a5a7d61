package start

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/cmd/root"
)

var (
	chargepointID string
	maxCurrent    int
)

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start charging at a charge point",
	Long: `Start a charging session on the first EVSE of the charge point.
If no chargepoint ID is provided, the only configured charger is used.`,
	Example: `  # Start charging at the configured charger
  ampeco-ha start

  # Start charging at 16A on a specific charger
  ampeco-ha start --chargepoint-id 4711 --max-current 16`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var current *int
		if cmd.Flags().Changed("max-current") {
			current = &maxCurrent
		}
		// reject before touching the network
		if err := ampeco.ValidateMaxCurrent(current); err != nil {
			return err
		}

		ch, client, err := root.Charger(chargepointID)
		if err != nil {
			return err
		}

		log := root.GetLogger()
		log.Debugf("Starting charge at %s", ch.ChargepointID)

		session, err := client.StartCharging(cmd.Context(), ch.ChargepointID, current)
		if err != nil {
			return fmt.Errorf("failed to start charging: %w", err)
		}

		if session != nil {
			fmt.Printf("✅ Charging started, session %s\n", session.ID)
			log.Debugf("Start response: %+v", session)
		} else {
			fmt.Printf("✅ Charging command sent\n")
		}

		return nil
	},
}

func init() {
	StartCmd.Flags().StringVar(&chargepointID, "chargepoint-id", "", "Charge point ID")
	StartCmd.Flags().IntVar(&maxCurrent, "max-current", 0, fmt.Sprintf("Maximum charging current in amperes (%d-%d)", ampeco.MinChargingCurrent, ampeco.MaxChargingCurrent))

	root.RootCmd.AddCommand(StartCmd)
}
