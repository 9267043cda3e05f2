package main

import (
	"os"

	"github.com/avila/reserva/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
