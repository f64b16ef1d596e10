package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"smc-engine/config"
	"smc-engine/internal/logging"

	"github.com/hashicorp/vault/api"
)

// Secret names under the configured secret path
const (
	SecretDatabase = "database"
	SecretRedis    = "redis"
	SecretAuth     = "auth"
)

// ErrSecretNotFound is returned when a secret or one of its keys is absent
var ErrSecretNotFound = errors.New("secret not found")

// Credentials are the service passwords kept in Vault
type Credentials struct {
	DatabasePassword string
	RedisPassword    string
	JWTSecret        string
}

// Client wraps the HashiCorp Vault client and reads KV v2 secrets
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cache  map[string]map[string]string // secret name -> key/value
}

// NewClient creates a new Vault client. A disabled config yields a client
// that reports every secret as missing.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return NewMockClient(), nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
		cache:  make(map[string]map[string]string),
	}, nil
}

// GetSecret reads a secret's key/value pairs. Found secrets are cached for
// the life of the client.
func (c *Client) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	c.mu.RLock()
	cached, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return copyValues(cached), nil
	}

	if !c.config.Enabled {
		return nil, fmt.Errorf("%w: %s (vault disabled)", ErrSecretNotFound, name)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s from vault: %w", name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format for %s", name)
	}

	values := make(map[string]string, len(data))
	for k := range data {
		values[k] = getString(data, k)
	}

	c.mu.Lock()
	c.cache[name] = copyValues(values)
	c.mu.Unlock()
	return values, nil
}

// Credentials reads the database, redis and auth secrets. A missing secret
// leaves its field empty; any other error is returned.
func (c *Client) Credentials(ctx context.Context) (Credentials, error) {
	var creds Credentials
	targets := []struct {
		name string
		key  string
		dst  *string
	}{
		{SecretDatabase, "password", &creds.DatabasePassword},
		{SecretRedis, "password", &creds.RedisPassword},
		{SecretAuth, "jwt_secret", &creds.JWTSecret},
	}

	for _, t := range targets {
		values, err := c.GetSecret(ctx, t.name)
		if errors.Is(err, ErrSecretNotFound) {
			continue
		}
		if err != nil {
			return Credentials{}, err
		}
		*t.dst = values[t.key]
	}
	return creds, nil
}

// ApplyCredentials overrides the passwords in cfg with those found in Vault
func (c *Client) ApplyCredentials(ctx context.Context, cfg *config.Config) error {
	creds, err := c.Credentials(ctx)
	if err != nil {
		return err
	}

	logger := logging.WithComponent("vault")
	if creds.DatabasePassword != "" {
		cfg.Database.Password = creds.DatabasePassword
		logger.Info("Database password loaded from vault")
	}
	if creds.RedisPassword != "" {
		cfg.Redis.Password = creds.RedisPassword
		logger.Info("Redis password loaded from vault")
	}
	if creds.JWTSecret != "" {
		cfg.Auth.JWTSecret = creds.JWTSecret
		logger.Info("JWT secret loaded from vault")
	}
	return nil
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection; a disabled client is always healthy
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path of a secret
func (c *Client) secretPath(name string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, name)
}

func copyValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// NewMockClient creates a client that never contacts Vault
func NewMockClient() *Client {
	return &Client{
		config: config.VaultConfig{
			Enabled: false,
		},
		cache: make(map[string]map[string]string),
	}
}
