package list

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/cmd/root"
	"github.com/denysvitali/ampeco-ha/hass"
)

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the charge points of your AMPECO account",
	Long: `List all personal charge points the token has access to, with their EVSEs
and the device id used by the start_charging, stop_charging and update_data
commands.`,
	Example: `  # List all charge points
  ampeco-ha list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := root.AccountClient()
		if err != nil {
			return err
		}

		chargePoints, err := client.ListChargePoints(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list charge points: %w", err)
		}

		if len(chargePoints) == 0 {
			fmt.Println("No charge points found.")
			return nil
		}

		fmt.Println(Render(chargePoints))
		return nil
	},
}

func init() {
	root.RootCmd.AddCommand(ListCmd)
}

// Render prints one row per EVSE.
func Render(chargePoints []ampeco.ChargePoint) string {
	var rows [][]string
	for _, cp := range chargePoints {
		id := string(cp.ID)
		if len(cp.EVSEs) == 0 {
			rows = append(rows, []string{id, orDash(cp.Name), "-", "-", orDash(cp.Status), hass.DeviceID(id)})
			continue
		}
		for _, evse := range cp.EVSEs {
			var connectors []string
			for _, c := range evse.Connectors {
				connectors = append(connectors, c.Name)
			}
			rows = append(rows, []string{
				id,
				orDash(cp.Name),
				string(evse.ID),
				orDash(strings.Join(connectors, ", ")),
				orDash(evse.Status),
				hass.DeviceID(id),
			})
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers("CHARGEPOINT ID", "NAME", "EVSE", "CONNECTORS", "STATUS", "DEVICE ID").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 0 {
				return lipgloss.NewStyle().Bold(true).PaddingLeft(1).PaddingRight(1)
			}
			baseStyle := lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)

			if col == 2 || col == 4 {
				return baseStyle.AlignHorizontal(lipgloss.Center)
			}
			return baseStyle
		}).
		Rows(rows...)

	return t.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
