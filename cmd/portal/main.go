package main

import (
	"fmt"
	"os"

	"github.com/benvon/hospital-portal/cmd/portal/commands"
	"github.com/benvon/hospital-portal/internal/config"
)

func main() {
	rootCmd := commands.NewRootCmd(config.Load)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
