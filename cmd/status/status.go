package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/cmd/root"
)

const (
	maxHistorySize = 30 // Number of data points to keep for sparkline
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1).
			MarginBottom(1)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	chargingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("82"))

	availableStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true).
			MarginTop(1)
)

var sparklineChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

type historyPoint struct {
	power float64
	time  time.Time
}

var history []historyPoint

var (
	chargepointID string
	interval      int
	once          bool
)

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display the live state of a charger",
	Long: `Display the charger status, the active session's power, energy and duration,
and the charger limits. By default, updates every 30 seconds.

Shows a sparkline graph of session power over time.`,
	Example: `  # Display the state of the configured charger
  ampeco-ha status

  # Display a specific charger once and exit
  ampeco-ha status --chargepoint-id 4711 --once

  # Update every 10 seconds
  ampeco-ha status --interval 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if interval <= 0 {
			return fmt.Errorf("interval must be positive")
		}

		ch, client, err := root.Charger(chargepointID)
		if err != nil {
			return err
		}

		log := root.GetLogger()
		log.Debugf("Getting state of charger %s", ch.ChargepointID)

		history = nil

		ctx := cmd.Context()
		for {
			state, err := client.FetchState(ctx, ch.ChargepointID)
			if err != nil {
				return fmt.Errorf("failed to get charger state: %w", err)
			}

			recordHistory(state)
			fmt.Print(Render(state, !once))

			if once {
				break
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Duration(interval) * time.Second):
			}
		}

		return nil
	},
}

func init() {
	StatusCmd.Flags().StringVar(&chargepointID, "chargepoint-id", "", "Charge point ID")
	StatusCmd.Flags().IntVar(&interval, "interval", 30, "Update interval in seconds")
	StatusCmd.Flags().BoolVar(&once, "once", false, "Get data once and exit")

	root.RootCmd.AddCommand(StatusCmd)
}

func recordHistory(state *ampeco.ChargerState) {
	var power float64
	if state.Session != nil {
		power = state.Session.PowerKW
	}
	history = append(history, historyPoint{power: power, time: state.FetchedAt})

	if len(history) > maxHistorySize {
		history = history[1:]
	}
}

// Render formats a snapshot. In live mode the screen is cleared first and
// the power trend is appended.
func Render(state *ampeco.ChargerState, live bool) string {
	var sb strings.Builder
	if live {
		sb.WriteString("\033[H\033[2J")
	}

	title := "CHARGER " + state.ChargepointID
	if state.Name != "" {
		title = strings.ToUpper(state.Name)
	}
	sb.WriteString(titleStyle.Render(title) + "\n")

	rows := [][]string{
		{"Status", getStyledStatus(state.Status)},
		{"EVSE", orDash(state.EVSEStatus)},
		{"Max current", fmt.Sprintf("%.0f A", state.MaxCurrentA)},
		{"Last month", fmt.Sprintf("%.2f kWh", state.LastMonthEnergyKWh)},
	}
	if s := state.Session; s != nil {
		rows = append(rows,
			[]string{"Session", s.ID},
			[]string{"Power", fmt.Sprintf("%.2f kW", s.PowerKW)},
			[]string{"Energy", fmt.Sprintf("%.2f kWh", s.EnergyKWh)},
			[]string{"Duration", formatDuration(time.Duration(s.DurationMinutes) * time.Minute)},
		)
	}
	rows = append(rows, []string{"Updated", state.FetchedAt.Local().Format("15:04:05")})

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			baseStyle := lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
			if col == 0 {
				return baseStyle.Foreground(lipgloss.Color("241"))
			}
			return baseStyle.Bold(true)
		}).
		Rows(rows...)

	sb.WriteString(t.String() + "\n")

	if len(history) > 1 && live {
		sb.WriteString("\n" + powerTrend() + "\n")
	}

	if live {
		sb.WriteString(hintStyle.Render("Press Ctrl+C to exit") + "\n")
	}
	return sb.String()
}

func powerTrend() string {
	values := make([]float64, len(history))
	for i, h := range history {
		values[i] = h.power
	}

	minVal, maxVal, avgVal := calculateStats(values)
	duration := history[len(history)-1].time.Sub(history[0].time)

	return strings.Join([]string{
		dimStyle.Render("Power Trend"),
		sparklineStyle.Render(generateSparkline(values)),
		dimStyle.Render(fmt.Sprintf(
			"Min: %.1f kW  Max: %.1f kW  Avg: %.1f kW  (%s)",
			minVal, maxVal, avgVal, formatDuration(duration),
		)),
	}, "\n")
}

func generateSparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}

	minVal, maxVal, _ := calculateStats(values)

	// Handle case where all values are the same
	valueRange := maxVal - minVal
	if valueRange == 0 {
		valueRange = 1
	}

	var sb strings.Builder
	for _, v := range values {
		normalized := (v - minVal) / valueRange
		index := int(normalized * float64(len(sparklineChars)-1))
		if index >= len(sparklineChars) {
			index = len(sparklineChars) - 1
		}
		if index < 0 {
			index = 0
		}
		sb.WriteRune(sparklineChars[index])
	}

	return sb.String()
}

func calculateStats(values []float64) (min, max, avg float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}

	min = math.MaxFloat64
	max = -math.MaxFloat64
	sum := 0.0

	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}

	avg = sum / float64(len(values))
	return min, max, avg
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func getStyledStatus(status ampeco.Status) string {
	switch status {
	case ampeco.StatusCharging:
		return chargingStyle.Render("⚡ Charging")
	case ampeco.StatusAvailable:
		return availableStyle.Render("✓ Available")
	case ampeco.StatusOccupied:
		return warningStyle.Render("⏸ Occupied")
	case ampeco.StatusSuspended:
		return warningStyle.Render("⏸ Suspended")
	case ampeco.StatusPreparing:
		return warningStyle.Render("↻ Preparing")
	case ampeco.StatusFinishing:
		return warningStyle.Render("⏳ Finishing")
	case ampeco.StatusReserved:
		return warningStyle.Render("⌛ Reserved")
	case ampeco.StatusFaulted:
		return errorStyle.Render("✗ Faulted")
	case ampeco.StatusUnavailable:
		return errorStyle.Render("✗ Unavailable")
	default:
		return string(status)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
