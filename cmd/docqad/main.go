package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ionology/docqa/internal/cli"
	"github.com/ionology/docqa/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docqad",
		Short: "Document QA daemon and CLI",
		Long:  "Document QA daemon for running the API server, migrations, and index backfills",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(admin.BackfillCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
