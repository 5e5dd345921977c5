package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TenantID != "demo" {
		t.Errorf("TenantID = %q, want demo", cfg.TenantID)
	}
	if cfg.AssistantURL != "http://localhost:8080" {
		t.Errorf("AssistantURL = %q", cfg.AssistantURL)
	}
	if cfg.RetryDelay != 3*time.Second {
		t.Errorf("RetryDelay = %v", cfg.RetryDelay)
	}
	if cfg.PingInterval != 30*time.Second {
		t.Errorf("PingInterval = %v", cfg.PingInterval)
	}
	if cfg.ConversationLog.Enabled {
		t.Error("conversation log should be disabled by default")
	}
	if cfg.ConversationLog.QueueSize != 1000 {
		t.Errorf("QueueSize = %d", cfg.ConversationLog.QueueSize)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TENANT_ID", "acme")
	t.Setenv("ASSISTANT_URL", "https://assist.example.com")
	t.Setenv("RETRY_DELAY", "500ms")
	t.Setenv("PING_INTERVAL", "10s")
	t.Setenv("PONG_TIMEOUT", "25s")
	t.Setenv("CONVERSATION_LOG_ENABLED", "true")
	t.Setenv("CONVERSATION_LOG_PATH", "/tmp/conv.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TenantID != "acme" {
		t.Errorf("TenantID = %q", cfg.TenantID)
	}
	if cfg.RetryDelay != 500*time.Millisecond {
		t.Errorf("RetryDelay = %v", cfg.RetryDelay)
	}
	if cfg.PongTimeout != 25*time.Second {
		t.Errorf("PongTimeout = %v", cfg.PongTimeout)
	}
	if !cfg.ConversationLog.Enabled || cfg.ConversationLog.Path != "/tmp/conv.db" {
		t.Errorf("ConversationLog = %+v", cfg.ConversationLog)
	}
}

func TestLoadBadValuesFallBack(t *testing.T) {
	t.Setenv("RETRY_DELAY", "soon")
	t.Setenv("CONVERSATION_LOG_QUEUE_SIZE", "-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RetryDelay != 3*time.Second {
		t.Errorf("RetryDelay = %v, want default", cfg.RetryDelay)
	}
	if cfg.ConversationLog.QueueSize != 1000 {
		t.Errorf("QueueSize = %d, want default", cfg.ConversationLog.QueueSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"empty tenant", func(c *Config) { c.TenantID = "" }, true},
		{"empty assistant url", func(c *Config) { c.AssistantURL = "" }, true},
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"zero retry delay", func(c *Config) { c.RetryDelay = 0 }, true},
		{"zero ping interval", func(c *Config) { c.PingInterval = 0 }, true},
		{"log enabled without path", func(c *Config) {
			c.ConversationLog.Enabled = true
			c.ConversationLog.Path = ""
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				TenantID:     "demo",
				AssistantURL: "http://localhost:8080",
				Port:         "8080",
				RetryDelay:   3 * time.Second,
				PingInterval: 30 * time.Second,
				ConversationLog: ConversationLogConfig{
					Path:      "./data/conversations.db",
					QueueSize: 100,
				},
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
