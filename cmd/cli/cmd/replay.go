package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"simwatch/internal/logger"
	"simwatch/internal/mq"
)

var replayServerID string

var replayCmd = &cobra.Command{
	Use:   "replay-email [uid]",
	Short: "Re-announce a mailbox email on the broker",
	Long:  `Publish a fresh mailbox announcement for an email by UID, forcing the decoder to process it again. Useful when a decode was lost before the email could be unpacked.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		emailUID := args[0]

		brokerURL := viper.GetString("broker_url")
		if brokerURL == "" {
			cmd.Println("Broker connection string not found; set it with --broker-url or SIMWATCH_BROKER_URL")
			return
		}

		broker, err := mq.DialBroker(brokerURL, viper.GetString("broker_exchange"), logger.New("simctl"), nil)
		if err != nil {
			cmd.Printf("Failed to dial broker: %v\n", err)
			return
		}
		defer broker.Close()

		env := mq.New(mq.CodeSMTPBridge, map[string]any{
			"email_uid":       emailUID,
			"email_server_id": replayServerID,
		})
		env.Props.Headers.EmailUID = emailUID
		if err := broker.Publish(ctx, env); err != nil {
			cmd.Printf("Failed to publish announcement: %v\n", err)
			return
		}

		cmd.Printf("%s✓%s Re-announced email %s %s(%s)%s\n",
			colorGreen, colorReset, emailUID, colorDim, fmt.Sprintf("server %s", replayServerID), colorReset)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayServerID, "server-id", "primary", "mailbox server identifier")
	rootCmd.AddCommand(replayCmd)
}
