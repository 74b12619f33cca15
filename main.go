package main

import (
	"os"

	"insights-pipeline/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
