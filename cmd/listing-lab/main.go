package main

import (
	"os"

	"github.com/listing-lab/listing-lab/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
