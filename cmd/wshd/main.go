package main

import (
	"fmt"
	"os"

	"wsh/internal/cli"
)

func main() {
	if err := cli.NewWshdCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wshd: %v\n", err)
		os.Exit(1)
	}
}
