package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "simctl",
	Short: "Simctl is a command line tool for operating the simwatch platform",
	Long: `simctl is the command-line interface for the simwatch HPC monitoring
platform.

Simwatch ingests job lifecycle events emitted by HPC simulations,
correlates them to simulation and job records, detects failures and
late jobs, and dispatches corrective scripts back to the compute
nodes.

Common workflows:

  Inspect a monitored simulation and its jobs:
    simctl status <simulation-uid>

  Inspect a supervision and its dispatch history:
    simctl supervision <id>

  Re-announce a mailbox email whose decode was lost:
    simctl replay-email <uid>

Configuration:
  Set the connection strings via environment variables or a config file:
    SIMWATCH_DATABASE_URL    Postgres connection string
    SIMWATCH_BROKER_URL      AMQP connection string
    SIMWATCH_BROKER_EXCHANGE Exchange name (default: simwatch.delayed)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".simctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".simctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "SIMWATCH_VARNAME"
	viper.SetEnvPrefix("SIMWATCH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.simctl.yaml)")

	rootCmd.PersistentFlags().String("database-url", "", "Postgres connection string")
	viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))

	rootCmd.PersistentFlags().String("broker-url", "", "AMQP connection string")
	viper.BindPFlag("broker_url", rootCmd.PersistentFlags().Lookup("broker-url"))

	rootCmd.PersistentFlags().String("broker-exchange", "simwatch.delayed", "AMQP exchange name")
	viper.BindPFlag("broker_exchange", rootCmd.PersistentFlags().Lookup("broker-exchange"))
}
