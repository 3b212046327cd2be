package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ternarybob/payrun/internal/common"
)

func main() {
	defer common.RecoverWithCrashFile()

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errTestCasesFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
