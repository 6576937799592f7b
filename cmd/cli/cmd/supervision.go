package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
)

var showScript bool

var supervisionCmd = &cobra.Command{
	Use:   "supervision [id]",
	Short: "Get status of a supervision",
	Long:  `Retrieve a supervision with its dispatch history: try count, last dispatch date and last dispatch error. Pass --script to print the formatted corrective script.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			cmd.Printf("Invalid supervision id %q\n", args[0])
			return
		}

		db, err := openStore(ctx, cmd)
		if err != nil {
			cmd.Printf("Failed to open store: %v\n", err)
			return
		}
		defer db.Close()

		sup, err := db.RetrieveSupervision(ctx, nil, id)
		if err != nil {
			cmd.Printf("Failed to retrieve supervision: %v\n", err)
			return
		}

		cmd.Printf("%sSupervision %d%s\n", colorBold, sup.ID, colorReset)
		cmd.Println("──────────────────────────────")
		cmd.Printf("%sSimulation:%s  %s\n", colorDim, colorReset, sup.SimulationUID)
		cmd.Printf("%sJob:%s         %s\n", colorDim, colorReset, sup.JobUID)
		cmd.Printf("%sTries:%s       %d\n", colorDim, colorReset, sup.DispatchTryCount)
		cmd.Printf("%sDispatched:%s  %s\n", colorDim, colorReset, formatTime(sup.DispatchDate))
		if sup.DispatchError != nil {
			cmd.Printf("%sLast error:%s  %s%s%s\n", colorDim, colorReset, colorRed, *sup.DispatchError, colorReset)
		} else if sup.DispatchDate != nil {
			cmd.Printf("%sLast error:%s  %s-%s\n", colorDim, colorReset, colorGreen, colorReset)
		}

		if showScript {
			if sup.Script == nil {
				cmd.Println("\nNo script formatted yet.")
				return
			}
			cmd.Printf("\n%sScript:%s\n%s", colorBold, colorReset, *sup.Script)
		}
	},
}

func init() {
	supervisionCmd.Flags().BoolVar(&showScript, "script", false, "print the formatted corrective script")
	rootCmd.AddCommand(supervisionCmd)
}
