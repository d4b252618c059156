package main

import (
	"fmt"
	"os"

	"github.com/GlyderLabs/api/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "glyder"}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
