package app

import "testing"

func TestLoadConfig(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("EVENTS_BACKEND", "KAFKA")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("WS_SEND_BUFFER", "16")
	t.Setenv("REDIS_ENABLED", "false")

	cfg := LoadConfig()
	if cfg.StoreDriver != StoreMemory || cfg.EventsBackend != EventsKafka {
		t.Fatalf("drivers = %q %q", cfg.StoreDriver, cfg.EventsBackend)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
	if cfg.WSSendBuffer != 16 || cfg.RedisEnabled {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Port != "8080" || cfg.MinIOEnabled {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestNewServerWithMemoryStore(t *testing.T) {
	cfg := Config{
		Env:           "test",
		Port:          "0",
		JWTSecret:     "s",
		JWTTTLMinutes: 5,
		StoreDriver:   StoreMemory,
		EventsBackend: EventsNone,
	}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if s.Gateway == nil || s.Desk == nil || s.HTTPServer == nil || s.Pool != nil {
		t.Fatalf("server = %+v", s)
	}
	if err := s.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNewServerRejectsUnknownDrivers(t *testing.T) {
	if _, err := NewServer(Config{StoreDriver: "mongo"}); err == nil {
		t.Fatal("expected store driver error")
	}
	if _, err := NewServer(Config{StoreDriver: StoreMemory, EventsBackend: "sns"}); err == nil {
		t.Fatal("expected events backend error")
	}
}
