package main

import (
	"fmt"
	"os"

	"ninja/internal/cli"
)

func main() {
	cli.LoadEnvFile()

	a := &App{out: os.Stdout}
	if err := SetupCommands(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
