package main

import (
	"os"

	"github.com/tillberg/autorestart"

	"github.com/soyeahso/callpilot/internal/cli"
)

func main() {
	if os.Getenv("CALLPILOT_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
