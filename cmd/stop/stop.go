package stop

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/cmd/root"
)

var chargepointID string

var StopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop charging at a charge point",
	Long: `Stop the active charging session at the charge point.
If no chargepoint ID is provided, the only configured charger is used.`,
	Example: `  # Stop charging at the configured charger
  ampeco-ha stop

  # Stop charging at a specific charger
  ampeco-ha stop --chargepoint-id 4711`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, client, err := root.Charger(chargepointID)
		if err != nil {
			return err
		}

		log := root.GetLogger()
		log.Debugf("Stopping charge at %s", ch.ChargepointID)

		session, err := client.StopCharging(cmd.Context(), ch.ChargepointID)
		if errors.Is(err, ampeco.ErrNoActiveSession) {
			fmt.Printf("Nothing to stop: no active session on %s\n", ch.ChargepointID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to stop charging: %w", err)
		}

		if session != nil {
			fmt.Printf("✅ Charging stopped successfully\n")
			log.Debugf("Stop response: %+v", session)
		} else {
			fmt.Printf("✅ Stop command sent\n")
		}

		return nil
	},
}

func init() {
	StopCmd.Flags().StringVar(&chargepointID, "chargepoint-id", "", "Charge point ID")

	root.RootCmd.AddCommand(StopCmd)
}
