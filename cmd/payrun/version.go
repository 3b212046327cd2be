package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/ternarybob/payrun/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Payrun version %s\n", common.GetFullVersion())
		fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Printf("  Go: %s\n", runtime.Version())
	},
}
