// Package main is the entrypoint for the authentication service.
// It serves the OTP verification flows: request, verify, profile
// completion, and token refresh.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/medlinkhq/auth-service/internal/config"
	"github.com/medlinkhq/auth-service/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:           "authsvc",
		PortFromConfig: func(cfg *config.Config) int { return cfg.HTTP.Port },
		Setup:          setup,
	}, nil)
}
