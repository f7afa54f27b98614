package main

import (
	"os"

	"github.com/asyncfs/asyncfs/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
