package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	rootCmd = &cobra.Command{
		Use:   "shoal",
		Short: "CLI for shoal wallet utxo store",
		Long: "This CLI lets you manage the local utxo set of a shoal wallet: " +
			"feed new utxos, track their confirmation and spent status, and " +
			"select coins to cover a target amount",
		Version: formatVersion(),
	}
)

func init() {
	rootCmd.AddCommand(utxoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
