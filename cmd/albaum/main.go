package main

import (
	"os"

	"github.com/moforw/albaum/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
