package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"simwatch/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [simulation_uid]",
	Short: "Get status of a monitored simulation",
	Long:  `Retrieve a monitored simulation with its error and obsolescence flags and the state of every job it owns.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		simulationUID := args[0]

		db, err := openStore(ctx, cmd)
		if err != nil {
			cmd.Printf("Failed to open store: %v\n", err)
			return
		}
		defer db.Close()

		sim, err := db.RetrieveSimulation(ctx, nil, simulationUID)
		if err != nil {
			cmd.Printf("Failed to retrieve simulation: %v\n", err)
			return
		}
		jobs, err := db.ListSimulationJobs(ctx, nil, simulationUID)
		if err != nil {
			cmd.Printf("Failed to list jobs: %v\n", err)
			return
		}

		printSimulation(cmd, sim, jobs)
	},
}

func printSimulation(cmd *cobra.Command, sim *store.Simulation, jobs []*store.Job) {
	cmd.Printf("%s %sSimulation Details%s\n", simulationIcon(sim), colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sUID:%s       %s\n", colorDim, colorReset, sim.UID)
	cmd.Printf("%sName:%s      %s\n", colorDim, colorReset, sim.Name)
	cmd.Printf("%sState:%s     %s\n", colorDim, colorReset, simulationState(sim))
	if sim.HashID != nil {
		cmd.Printf("%sHash:%s      %s\n", colorDim, colorReset, *sim.HashID)
	}
	if sim.ComputeNodeLogin != nil && sim.ComputeNodeMachine != nil {
		cmd.Printf("%sOwner:%s     %s@%s\n", colorDim, colorReset, *sim.ComputeNodeLogin, *sim.ComputeNodeMachine)
	}
	cmd.Printf("%sStarted:%s   %s\n", colorDim, colorReset, formatTime(sim.ExecutionStartDate))
	cmd.Printf("%sFinished:%s  %s\n", colorDim, colorReset, formatTime(sim.ExecutionEndDate))

	cmd.Printf("\n%sJobs (%d):%s\n", colorBold, len(jobs), colorReset)
	for _, job := range jobs {
		cmd.Printf("  %s %s %s[%s]%s started %s\n",
			jobIcon(job), job.UID, colorDim, job.Type, colorReset,
			job.ExecutionStartDate.Format(time.RFC3339))
	}
}

func simulationIcon(sim *store.Simulation) string {
	switch {
	case sim.IsError:
		return colorRed + "✗" + colorReset
	case sim.ExecutionEndDate != nil:
		return colorGreen + "✓" + colorReset
	default:
		return colorYellow + "⏳" + colorReset
	}
}

func simulationState(sim *store.Simulation) string {
	state := sim.ExecutionState
	switch {
	case sim.IsObsolete:
		return colorDim + state + " (obsolete)" + colorReset
	case sim.IsError:
		return colorRed + state + " (error)" + colorReset
	case sim.ExecutionEndDate != nil:
		return colorGreen + state + colorReset
	default:
		return colorYellow + state + colorReset
	}
}

func jobIcon(job *store.Job) string {
	switch {
	case job.IsError:
		return colorRed + "✗" + colorReset
	case job.IsRunning():
		return colorYellow + "⏳" + colorReset
	default:
		return colorGreen + "✓" + colorReset
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s(%s ago)%s",
		t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relativeTime(*t), colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
