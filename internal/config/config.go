package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Provider names accepted by PROVIDER.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	Provider    string
	OpenAIKey   string
	OpenAIModel string
	GeminiKey   string
	GeminiModel string

	Voice        string
	Instructions string
	Greeting     string

	InputDevice  string
	RecordingDir string

	KafkaBrokers      []string
	KafkaPartialTopic string
	KafkaFinalTopic   string

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioTo         string

	LogLevel  string
	LogFormat string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	cfg := Config{
		HTTPAddress:       getenv("HTTP_ADDRESS", ":8080"),
		Provider:          strings.ToLower(getenv("PROVIDER", ProviderOpenAI)),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       getenv("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		GeminiKey:         os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getenv("GEMINI_LIVE_MODEL", "gemini-2.0-flash-live-001"),
		Voice:             getenv("AGENT_VOICE", "alloy"),
		Instructions:      getenv("AGENT_INSTRUCTIONS", defaultInstructions),
		Greeting:          getenv("AGENT_GREETING", "Greet the caller and ask how you can help with their dental appointment."),
		InputDevice:       os.Getenv("INPUT_DEVICE"),
		RecordingDir:      os.Getenv("RECORDING_DIR"),
		KafkaPartialTopic: getenv("KAFKA_PARTIAL_TOPIC", "transcript.partial"),
		KafkaFinalTopic:   getenv("KAFKA_FINAL_TOPIC", "transcript.final"),
		SupabaseURL:       os.Getenv("SUPABASE_URL"),
		SupabaseKey:       os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:    getenv("SUPABASE_BUCKET", "transcripts"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:        os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioTo:          os.Getenv("TWILIO_TO_NUMBER"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogFormat:         getenv("LOG_FORMAT", "console"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			log.Warn().Msg("OPENAI_API_KEY not set - the agent cannot connect")
		}
	case ProviderGemini:
		if cfg.GeminiKey == "" {
			log.Warn().Msg("GEMINI_API_KEY not set - the agent cannot connect")
		}
	default:
		log.Warn().Str("provider", cfg.Provider).Msg("unknown PROVIDER, falling back to openai")
		cfg.Provider = ProviderOpenAI
	}

	log.Info().Str("http_address", cfg.HTTPAddress).Str("provider", cfg.Provider).Msg("configuration loaded")
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

const defaultInstructions = "You are the scheduling assistant for Jefferson Dental. " +
	"Be warm and concise. Use the lookup_patient, available_slots and " +
	"book_appointment tools to help callers manage appointments. Confirm " +
	"details back to the caller before booking."
