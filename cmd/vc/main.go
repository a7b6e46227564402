// Package main is the entry point for vc, the VaultCourier command.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
