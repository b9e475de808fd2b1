package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("PROVIDER", "")
	os.Setenv("KAFKA_BROKERS", "")
	cfg := Load()

	if cfg.HTTPAddress != ":8080" {
		t.Fatalf("http address = %q", cfg.HTTPAddress)
	}
	if cfg.Provider != ProviderOpenAI {
		t.Fatalf("provider = %q", cfg.Provider)
	}
	if cfg.OpenAIModel == "" || cfg.GeminiModel == "" {
		t.Fatal("expected default model names")
	}
	if cfg.Instructions == "" || cfg.Greeting == "" {
		t.Fatal("expected default agent prompt")
	}
	if cfg.KafkaBrokers != nil {
		t.Fatalf("brokers = %v, want none", cfg.KafkaBrokers)
	}
}

func TestLoadProviderSelection(t *testing.T) {
	os.Setenv("PROVIDER", "GEMINI")
	defer os.Unsetenv("PROVIDER")
	cfg := Load()
	if cfg.Provider != ProviderGemini {
		t.Fatalf("provider = %q, want gemini", cfg.Provider)
	}

	os.Setenv("PROVIDER", "something-else")
	cfg = Load()
	if cfg.Provider != ProviderOpenAI {
		t.Fatalf("provider = %q, unknown should fall back to openai", cfg.Provider)
	}
}

func TestLoadKafkaBrokers(t *testing.T) {
	os.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	defer os.Unsetenv("KAFKA_BROKERS")
	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "k1:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
}
