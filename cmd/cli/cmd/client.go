package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"simwatch/internal/store/postgres"
)

// openStore connects to the configured database.
func openStore(ctx context.Context, cmd *cobra.Command) (*postgres.Store, error) {
	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		return nil, fmt.Errorf("database connection string not found; set it with --database-url or SIMWATCH_DATABASE_URL")
	}
	return postgres.New(ctx, databaseURL)
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)
