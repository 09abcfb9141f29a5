package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	ScriptPath      string        `env:"WXF_SCRIPT_PATH,required"`
	Interpreter     string        `env:"WXF_INTERPRETER" envDefault:"python3"`
	InterpreterArgs []string      `env:"WXF_INTERPRETER_ARGS" envSeparator:" " envDefault:"-u"`
	DefaultModel    string        `env:"WXF_DEFAULT_MODEL" envDefault:"small"`
	Diarize         bool          `env:"WXF_DIARIZE" envDefault:"false"`

	HandshakeTimeout  time.Duration `env:"WXF_HANDSHAKE_TIMEOUT" envDefault:"5m"`
	StopGrace         time.Duration `env:"WXF_STOP_GRACE" envDefault:"5s"`
	LoadModelTimeout  time.Duration `env:"WXF_LOAD_MODEL_TIMEOUT" envDefault:"10m"`
	TranscribeTimeout time.Duration `env:"WXF_TRANSCRIBE_TIMEOUT" envDefault:"30m"`
	PollInterval      time.Duration `env:"WXF_POLL_INTERVAL" envDefault:"500ms"`

	WatchDir string `env:"WXF_WATCH_DIR"`

	FPS              float64 `env:"WXF_FPS" envDefault:"24"`
	SubtitlePosition string  `env:"WXF_SUBTITLE_POSITION" envDefault:"bottom"`
	SubtitleFontSize int     `env:"WXF_SUBTITLE_FONT_SIZE" envDefault:"70"`

	HTTPAddr     string        `env:"WXF_HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"WXF_HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"WXF_HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"WXF_HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	MQTTBrokerURL string `env:"WXF_MQTT_BROKER_URL"`
	MQTTTopic     string `env:"WXF_MQTT_TOPIC" envDefault:"whisperflow/events"`
	MQTTClientID  string `env:"WXF_MQTT_CLIENT_ID" envDefault:"whisperflow"`
	MQTTUsername  string `env:"WXF_MQTT_USERNAME"`
	MQTTPassword  string `env:"WXF_MQTT_PASSWORD"`

	AuthToken string `env:"WXF_AUTH_TOKEN"`
	LogLevel  string `env:"WXF_LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile      string
	ScriptPath   string
	Interpreter  string
	DefaultModel string
	WatchDir     string
	HTTPAddr     string
	LogLevel     string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Apply flag overrides that feed required env fields before parsing,
	// so a --script flag satisfies the required check.
	if overrides.ScriptPath != "" {
		os.Setenv("WXF_SCRIPT_PATH", overrides.ScriptPath)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.Interpreter != "" {
		cfg.Interpreter = overrides.Interpreter
	}
	if overrides.DefaultModel != "" {
		cfg.DefaultModel = overrides.DefaultModel
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}

	return cfg, nil
}
