package main

import (
	"os"

	"github.com/telegent/telegent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
