package main

import (
	"os"

	"github.com/CodeMonkeyCybersecurity/portalctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
