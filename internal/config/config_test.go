package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:9000", cfg.Server.Addr())
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.True(t, cfg.Database.IsEmbedded())
	require.Equal(t, "us-east-1", cfg.Upstream.Region)
	require.Equal(t, int64(256), cfg.Upstream.MaxInFlight)
	require.True(t, cfg.Policy.DefaultAllow)
	require.False(t, cfg.Redis.Enabled)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 8080
upstream:
  endpoint: https://s3.example.com
  region: eu-west-1
  max_body_size: 1048576
policy:
  default_allow: false
  rules:
    - methods: ["GET"]
      bucket_pattern: "public-*"
      effect: allow
database:
  driver: sqlite
  path: /tmp/gateway.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "eu-west-1", cfg.Upstream.Region)
	require.Equal(t, int64(1048576), cfg.Upstream.MaxBodySize)

	endpoint, err := cfg.Upstream.EndpointURL()
	require.NoError(t, err)
	require.Equal(t, "s3.example.com", endpoint.Host)

	require.False(t, cfg.Policy.DefaultAllow)
	require.Len(t, cfg.Policy.Rules, 1)
	require.Equal(t, "allow", cfg.Policy.Rules[0].Effect)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GATEWAY_SERVER_PORT", "7070")
	t.Setenv("GATEWAY_UPSTREAM_REGION", "ap-southeast-2")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "ap-southeast-2", cfg.Upstream.Region)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"postgres without host", func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.Host = ""
		}},
		{"sqlite without path", func(c *Config) {
			c.Database.Driver = "sqlite"
			c.Database.Path = ""
		}},
		{"bad rule effect", func(c *Config) {
			c.Policy.Rules = []PolicyRule{{Effect: "maybe"}}
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad endpoint", func(c *Config) { c.Upstream.Endpoint = "not-a-url" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "gateway",
		Password: "hunter2",
		Database: "mappings",
		SSLMode:  "require",
	}
	require.Equal(t,
		"host=db.internal port=5432 user=gateway password=hunter2 dbname=mappings sslmode=require",
		cfg.DSN(),
	)
}
