package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/AltairaLabs/realtime-voice/config"
	"github.com/AltairaLabs/realtime-voice/statestore"
	"github.com/AltairaLabs/realtime-voice/transport"
)

// envLookup is replaced in tests.
var envLookup = os.Getenv

// loadConfig reads path when given, otherwise starts from the defaults.
// Environment overrides apply either way.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	cfg.ApplyEnv(envLookup)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// transportConfig selects the endpoint and credential for the provider.
func transportConfig(cfg *config.Config) (transport.Config, error) {
	switch cfg.Provider {
	case config.ProviderAzure:
		u, err := transport.AzureURL(cfg.Azure.Endpoint, cfg.Azure.Deployment, cfg.Azure.APIVersion)
		if err != nil {
			return transport.Config{}, err
		}
		tc := transport.Config{URL: u}
		if cfg.Azure.APIKey != "" {
			tc.Credential = transport.AzureAPIKey(cfg.Azure.APIKey)
			return tc, nil
		}
		cred, err := transport.NewAzureDefaultCredential()
		if err != nil {
			return transport.Config{}, err
		}
		tc.Credential = cred
		return tc, nil

	case config.ProviderOpenAI:
		return transport.Config{
			URL:        transport.OpenAIURL(cfg.OpenAI.URL, cfg.OpenAI.Model),
			Headers:    transport.OpenAIHeaders(),
			Credential: transport.APIKey(cfg.OpenAI.APIKey),
		}, nil

	default:
		return transport.Config{}, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// openStore returns the configured conversation store, or nil for none.
// The returned function releases it.
func openStore(ctx context.Context, sc config.StoreConfig) (statestore.Store, func() error, error) {
	noop := func() error { return nil }

	switch sc.Type {
	case "", config.StoreNone:
		return nil, noop, nil
	case config.StoreMemory:
		return statestore.NewMemoryStore(), noop, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     sc.Addr,
			Password: sc.Password,
			DB:       sc.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("failed to connect to redis at %s: %w", sc.Addr, err)
		}
		store := statestore.NewRedisStore(client,
			statestore.WithTTL(sc.TTL),
			statestore.WithPrefix(sc.Prefix),
		)
		return store, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown store type %q", sc.Type)
	}
}
