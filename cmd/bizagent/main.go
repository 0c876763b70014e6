package main

import (
	"os"

	"github.com/soyeahso/bizagent/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	// restart on binary change only while developing
	if os.Getenv("BIZAGENT_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
