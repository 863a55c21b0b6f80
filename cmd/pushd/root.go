package main

import (
	"os"

	"github.com/spf13/cobra"
)

/*
   Creation Time: 2021 - Aug - 06
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "pushd",
	Short: "push notification dispatch and conference-address allocation daemon",
}

func main() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the daemon version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version)
	},
}
