package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("UNM_STORAGE_KIND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Cache.Kind != "memory" {
		t.Fatalf("cache kind = %q", cfg.Cache.Kind)
	}
	if cfg.Auth.SignatureWindow != 5*time.Minute {
		t.Fatalf("signature window = %v", cfg.Auth.SignatureWindow)
	}
	if cfg.Monitor.MaxEvents != 1000 {
		t.Fatalf("max events = %d", cfg.Monitor.MaxEvents)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("UNM_STORAGE_KIND", "file")
	t.Setenv("UNM_STORAGE_ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("UNM_CACHE_KIND", "none")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Kind != "file" {
		t.Fatalf("storage kind = %q", cfg.Storage.Kind)
	}
	if cfg.Cache.Kind != "none" {
		t.Fatalf("cache kind = %q", cfg.Cache.Kind)
	}
}

func TestLoadRejectsBadKinds(t *testing.T) {
	cases := map[string]map[string]string{
		"bad storage":   {"UNM_STORAGE_KIND": "etcd"},
		"missing key":   {"UNM_STORAGE_KIND": "file", "UNM_STORAGE_ENCRYPTION_KEY": ""},
		"bad cache":     {"UNM_STORAGE_KIND": "memory", "UNM_CACHE_KIND": "memcached"},
		"sql no dsn":    {"UNM_STORAGE_KIND": "sql", "UNM_STORAGE_ENCRYPTION_KEY": "k", "UNM_STORAGE_DSN": ""},
		"sig no secret": {"UNM_STORAGE_KIND": "memory", "UNM_AUTH_SIGNATURE_REQUIRED": "true"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
