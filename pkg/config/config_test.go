package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("expected default port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Kafka.ConsumerGroup != "booksearch-consumers" {
		t.Errorf("unexpected consumer group %q", cfg.Kafka.ConsumerGroup)
	}
	if cfg.Kafka.BookEvents != "book_events" {
		t.Errorf("unexpected topic %q", cfg.Kafka.BookEvents)
	}
	if cfg.Elasticsearch.Index != "books_index" {
		t.Errorf("unexpected index %q", cfg.Elasticsearch.Index)
	}
	if cfg.Embedder.Dimensions != 384 {
		t.Errorf("expected 384 dimensions, got %d", cfg.Embedder.Dimensions)
	}
	if cfg.Search.DefaultTopK != 5 || cfg.Search.CandidateMargin != 10 {
		t.Errorf("unexpected search defaults: %+v", cfg.Search)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9001
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  bookEventsTopic: "events.books"
embedder:
  dimensions: 768
search:
  defaultTopK: 10
  maxTopK: 20
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("expected port 9001, got %d", cfg.Server.Port)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "kafka-1:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.BookEvents != "events.books" {
		t.Errorf("unexpected topic %q", cfg.Kafka.BookEvents)
	}
	if cfg.Embedder.Dimensions != 768 {
		t.Errorf("expected 768 dimensions, got %d", cfg.Embedder.Dimensions)
	}
	// Untouched sections keep their defaults.
	if cfg.Embedder.Timeout != 30*time.Second {
		t.Errorf("expected default embedder timeout, got %v", cfg.Embedder.Timeout)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BS_SERVER_PORT", "7777")
	t.Setenv("BS_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("BS_ELASTICSEARCH_INDEX", "books_v2")
	t.Setenv("BS_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected env port override, got %d", cfg.Server.Port)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Elasticsearch.Index != "books_v2" {
		t.Errorf("unexpected index %q", cfg.Elasticsearch.Index)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("unexpected log level %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dimensions", func(c *Config) { c.Embedder.Dimensions = 0 }},
		{"topK above max", func(c *Config) { c.Search.DefaultTopK = 200 }},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{
		Host: "db", Port: 5432, User: "svc", Password: "pw",
		Database: "booksearch", SSLMode: "disable",
	}
	want := "host=db port=5432 user=svc password=pw dbname=booksearch sslmode=disable"
	if got := p.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
