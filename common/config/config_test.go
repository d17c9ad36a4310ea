package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("gateway")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service.Name != "gateway" {
		t.Errorf("service name = %q", cfg.Service.Name)
	}
	if cfg.Service.Port != 8080 {
		t.Errorf("port = %d", cfg.Service.Port)
	}
	if cfg.Intake.MaxPayloadBytes != 1<<20 {
		t.Errorf("max payload = %d", cfg.Intake.MaxPayloadBytes)
	}
	if got := len(cfg.Intake.Integrations); got != len(Sources) {
		t.Errorf("integrations = %d, want %d", got, len(Sources))
	}
}

func TestIntegrationToggles(t *testing.T) {
	t.Setenv("INTEGRATIONS_DATADOG_ENABLED", "false")
	cfg, err := Load("gateway")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IntegrationEnabled("datadog") {
		t.Error("datadog should be disabled")
	}
	if !cfg.IntegrationEnabled("github") {
		t.Error("github should default to enabled")
	}
	if cfg.IntegrationEnabled("not-a-source") {
		t.Error("unknown sources are never enabled")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("gateway")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Service.Port = 0 }, "invalid port"},
		{"missing database url", func(c *Config) { c.Database.URL = "" }, "DATABASE_URL"},
		{"min conns above max", func(c *Config) { c.Database.MaxConns = 2; c.Database.MinConns = 10 }, "max_conns"},
		{"zero payload limit", func(c *Config) { c.Intake.MaxPayloadBytes = 0 }, "MAX_PAYLOAD_BYTES"},
		{"zero rate limit", func(c *Config) { c.Intake.RateLimitPerMin = 0 }, "RATE_LIMIT_PER_MIN"},
		{"sub-second evaluator interval", func(c *Config) { c.Evaluator.Interval = 500 * time.Millisecond }, "EVALUATOR_INTERVAL_SEC"},
		{"zero runner attempts", func(c *Config) { c.Runner.MaxAttempts = 0 }, "RUNNER_MAX_ATTEMPTS"},
		{"short jwt key", func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecretKey = "short" }, "JWT_SECRET_KEY"},
		{"unsupported jwt algorithm", func(c *Config) {
			c.Auth.Enabled = true
			c.Auth.JWTSecretKey = strings.Repeat("k", 32)
			c.Auth.JWTAlgorithm = "RS256"
		}, "JWT_ALGORITHM"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want mention of %s", err, tc.want)
			}
		})
	}

	// A symmetric-key setup with a long enough secret passes
	cfg := valid()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecretKey = strings.Repeat("k", 32)
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid auth config rejected: %v", err)
	}
}
