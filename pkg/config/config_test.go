package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Kafka.Topics.Entry != "suggest-topic" ||
		cfg.Kafka.Topics.Mid != "curate-topic" ||
		cfg.Kafka.Topics.Terminal != "suggestions-topic" {
		t.Errorf("unexpected default topics: %+v", cfg.Kafka.Topics)
	}
	if cfg.Search.Limit != 10 || cfg.Search.MatchMode != "match" || cfg.Search.Field != "body" {
		t.Errorf("unexpected search defaults: %+v", cfg.Search)
	}
	if err := cfg.ValidateBus(); err != nil {
		t.Errorf("default bus config invalid: %v", err)
	}
	if err := cfg.ValidateSearch(); err != nil {
		t.Errorf("default search config invalid: %v", err)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
search:
  backend: bleve
  defaultIndex: so-questions2
  matchMode: mlt
  timeout: 750ms
  siteIndexes:
    stackoverflow: so-questions
gateway:
  loopback: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SP_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SP_SEARCH_LIMIT", "25")
	t.Setenv("SP_SEARCH_SITE_INDEXES", "superuser:su-questions")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.Backend != "bleve" || cfg.Search.MatchMode != "mlt" {
		t.Errorf("file values not applied: %+v", cfg.Search)
	}
	if cfg.Search.Timeout != 750*time.Millisecond {
		t.Errorf("timeout = %v", cfg.Search.Timeout)
	}
	if !cfg.Gateway.Loopback {
		t.Error("gateway.loopback not applied")
	}
	if got := strings.Join(cfg.Kafka.Brokers, ","); got != "k1:9092,k2:9092" {
		t.Errorf("brokers = %s", got)
	}
	if cfg.Search.Limit != 25 {
		t.Errorf("limit = %d", cfg.Search.Limit)
	}
	if cfg.Search.SiteIndexes["superuser"] != "su-questions" {
		t.Errorf("site indexes = %v", cfg.Search.SiteIndexes)
	}
	if cfg.Search.DefaultIndex != "so-questions2" {
		t.Errorf("defaultIndex = %s", cfg.Search.DefaultIndex)
	}
}

func TestValidateSearchRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty index", func(c *Config) { c.Search.DefaultIndex = " " }, "defaultIndex"},
		{"bad mode", func(c *Config) { c.Search.MatchMode = "fuzzy" }, "matchMode"},
		{"bad backend", func(c *Config) { c.Search.Backend = "solr" }, "backend"},
		{"zero limit", func(c *Config) { c.Search.Limit = 0 }, "limit"},
		{"meili without url", func(c *Config) { c.Search.Backend = "meili"; c.Meili.URL = "" }, "meili.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.ValidateSearch()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateBus(t *testing.T) {
	cfg := Default()
	cfg.Bus.Driver = "pulsar"
	if err := cfg.ValidateBus(); err == nil {
		t.Error("expected unknown driver to fail")
	}
	cfg.Bus.Driver = "memory"
	cfg.Kafka.Brokers = nil
	if err := cfg.ValidateBus(); err != nil {
		t.Errorf("memory bus should not need brokers: %v", err)
	}
}

func TestValidateCuration(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateCuration(); err != nil {
		t.Fatalf("default curation config invalid: %v", err)
	}
	cfg.Postgres.Driver = "mysql"
	cfg.Curation.Timeout = 0
	err := cfg.ValidateCuration()
	if err == nil || !strings.Contains(err.Error(), "postgres.driver") || !strings.Contains(err.Error(), "curation.timeout") {
		t.Errorf("expected driver and timeout errors, got %v", err)
	}
}
