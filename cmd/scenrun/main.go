package main

import (
	"os"

	"github.com/scenrun/scenrun/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
