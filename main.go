// Package main is the entry point for the gokb service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/jonesrussell/gokb/internal/app"
)

var (
	// version can be set at build time via -ldflags
	version = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Best effort; env vars may come from the environment directly.
	_ = godotenv.Load()

	application, err := app.New(app.Options{
		ConfigPath: configPath(),
		Version:    version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer func() { _ = application.Close() }()

	if err := application.Run(context.Background()); err != nil {
		return 1
	}
	return 0
}

// configPath returns the config file location, overridable via GOKB_CONFIG.
func configPath() string {
	if path := os.Getenv("GOKB_CONFIG"); path != "" {
		return path
	}
	return "config.yml"
}
