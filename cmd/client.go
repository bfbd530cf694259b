package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/sassbridge/internal/compiler"
	"github.com/zjrosen/sassbridge/internal/log"
	"github.com/zjrosen/sassbridge/internal/tracing"
)

// newClient validates the loaded config and builds a Client with tracing,
// caching and limits wired from it. The returned cleanup stops the
// persistent worker and flushes traces.
func newClient() (*compiler.Client, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	provider, err := tracing.NewProvider(cfg.TracingConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("initializing tracing: %w", err)
	}

	client, err := compiler.New(cfg.ClientOptions(provider.Tracer())...)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, nil, err
	}
	if cfg.Persistent {
		client.EnablePersistentMode()
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.DisablePersistentMode(ctx); err != nil {
			log.Warn(log.CatProcess, "Persistent worker did not stop cleanly", "error", err)
		}
		if err := provider.Shutdown(ctx); err != nil {
			log.Warn(log.CatConfig, "Tracing shutdown failed", "error", err)
		}
	}
	return client, cleanup, nil
}
