package main

import (
	"fmt"
	"os"

	"wsh/internal/cli"
)

func main() {
	if err := cli.NewWshCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wsh: %v\n", err)
		os.Exit(1)
	}
}
