package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Set required env vars for all subtests
	cleanup := setEnvs(t, map[string]string{
		"WXF_SCRIPT_PATH": "/opt/whisperx/runner.py",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Interpreter != "python3" {
			t.Errorf("Interpreter = %q, want python3", cfg.Interpreter)
		}
		if len(cfg.InterpreterArgs) != 1 || cfg.InterpreterArgs[0] != "-u" {
			t.Errorf("InterpreterArgs = %v, want [-u]", cfg.InterpreterArgs)
		}
		if cfg.DefaultModel != "small" {
			t.Errorf("DefaultModel = %q, want small", cfg.DefaultModel)
		}
		if cfg.PollInterval != 500*time.Millisecond {
			t.Errorf("PollInterval = %v, want 500ms", cfg.PollInterval)
		}
		if cfg.HandshakeTimeout != 5*time.Minute {
			t.Errorf("HandshakeTimeout = %v, want 5m", cfg.HandshakeTimeout)
		}
		if cfg.TranscribeTimeout != 30*time.Minute {
			t.Errorf("TranscribeTimeout = %v, want 30m", cfg.TranscribeTimeout)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.FPS != 24 {
			t.Errorf("FPS = %v, want 24", cfg.FPS)
		}
		if cfg.SubtitleFontSize != 70 {
			t.Errorf("SubtitleFontSize = %d, want 70", cfg.SubtitleFontSize)
		}
		if cfg.MQTTBrokerURL != "" {
			t.Errorf("MQTTBrokerURL = %q, want empty", cfg.MQTTBrokerURL)
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		// The ScriptPath override writes through to the env var so the
		// required check passes; restore it for later subtests.
		restore := setEnvs(t, map[string]string{"WXF_SCRIPT_PATH": "/opt/whisperx/runner.py"})
		defer restore()

		cfg, err := Load(Overrides{
			EnvFile:      "nonexistent.env",
			ScriptPath:   "/override/runner.py",
			Interpreter:  "python3.11",
			DefaultModel: "large-v3",
			WatchDir:     "/tmp/drop",
			HTTPAddr:     ":9090",
			LogLevel:     "debug",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.ScriptPath != "/override/runner.py" {
			t.Errorf("ScriptPath = %q, want override", cfg.ScriptPath)
		}
		if cfg.Interpreter != "python3.11" {
			t.Errorf("Interpreter = %q, want python3.11", cfg.Interpreter)
		}
		if cfg.DefaultModel != "large-v3" {
			t.Errorf("DefaultModel = %q, want large-v3", cfg.DefaultModel)
		}
		if cfg.WatchDir != "/tmp/drop" {
			t.Errorf("WatchDir = %q, want /tmp/drop", cfg.WatchDir)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.ScriptPath != "/opt/whisperx/runner.py" {
			t.Errorf("ScriptPath = %q, want /opt/whisperx/runner.py", cfg.ScriptPath)
		}
	})
}

func TestLoadMissingRequired(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{"WXF_SCRIPT_PATH": ""})
	defer cleanup()
	os.Unsetenv("WXF_SCRIPT_PATH")

	_, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err == nil {
		t.Error("expected error when WXF_SCRIPT_PATH is missing")
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
