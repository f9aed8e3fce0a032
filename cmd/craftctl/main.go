package main

import (
	"fmt"
	"os"

	"github.com/danmuck/craftctl/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "craftctl: %v\n", err)
		os.Exit(1)
	}
}
