package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidTranscriberNames lists the built-in transcriber backends.
// Used by [Validate] to warn about unrecognised names.
var ValidTranscriberNames = []string{"whisper", "whisper-native", "deepgram", "openai"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.LiveInterval < 0 {
		errs = append(errs, fmt.Errorf("server.live_interval %s must not be negative", cfg.Server.LiveInterval))
	}
	if cfg.Server.SessionRetention < 0 {
		errs = append(errs, fmt.Errorf("server.session_retention %s must not be negative", cfg.Server.SessionRetention))
	}

	// Transcription chain
	tr := cfg.Transcription
	if tr.Primary.Name == "" {
		errs = append(errs, errors.New("transcription.primary.name is required"))
	}
	seen := make(map[string]string, len(tr.Fallbacks)+1)
	for i, e := range tr.Entries() {
		prefix := "transcription.primary"
		if i > 0 {
			prefix = fmt.Sprintf("transcription.fallbacks[%d]", i-1)
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("%s.name is required", prefix))
				continue
			}
		}
		if e.Name == "" {
			continue
		}
		validateTranscriberName(prefix, e.Name)
		if prev, ok := seen[e.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of %s", prefix, e.Name, prev))
		}
		seen[e.Name] = prefix
		switch e.Name {
		case "deepgram", "openai":
			if e.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s: %s requires api_key", prefix, e.Name))
			}
		case "whisper":
			if e.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s: whisper requires base_url", prefix))
			}
		case "whisper-native":
			if e.Model == "" {
				errs = append(errs, fmt.Errorf("%s: whisper-native requires model (path to the model file)", prefix))
			}
		}
	}
	if tr.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.timeout %s must not be negative", tr.Timeout))
	}
	cb := tr.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("transcription.circuit_breaker values must not be negative"))
	}
	if len(tr.Fallbacks) == 0 && tr.Primary.Name != "" {
		slog.Warn("transcription has no fallbacks; attempts get degraded feedback while the primary is unavailable")
	}

	// Capture
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	} else if cfg.Capture.SampleRate != 0 && cfg.Capture.SampleRate < 8000 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d is below 8000 Hz", cfg.Capture.SampleRate))
	}
	if cfg.Capture.LevelInterval < 0 || cfg.Capture.MaxDuration < 0 {
		errs = append(errs, errors.New("capture durations must not be negative"))
	}

	// Content
	if cfg.Content.VersesFile == "" {
		errs = append(errs, errors.New("content.verses_file is required"))
	}
	if cfg.Content.ReloadInterval < 0 {
		errs = append(errs, fmt.Errorf("content.reload_interval %s must not be negative", cfg.Content.ReloadInterval))
	}

	// Progress
	switch b := cfg.Progress.Backend; {
	case b == "", b == ProgressNone:
		slog.Warn("progress.backend is none; best accuracy will not survive a restart")
	case !b.IsValid():
		errs = append(errs, fmt.Errorf("progress.backend %q is invalid; valid values: none, postgres, file", b))
	case b == ProgressPostgres && cfg.Progress.PostgresDSN == "":
		errs = append(errs, errors.New("progress.postgres_dsn is required when backend is postgres"))
	case b == ProgressFile && cfg.Progress.FilePath == "":
		errs = append(errs, errors.New("progress.file_path is required when backend is file"))
	}

	// Feedback
	th := cfg.Feedback.HintThresholds
	if th.Correct < 0 || th.Correct > 1 || th.Minor < 0 || th.Minor > 1 {
		errs = append(errs, errors.New("feedback.hint_thresholds must be within [0, 1]"))
	} else if th.Correct != 0 && th.Minor > th.Correct {
		errs = append(errs, fmt.Errorf("feedback.hint_thresholds.minor %.2f exceeds correct %.2f", th.Minor, th.Correct))
	}

	return errors.Join(errs...)
}

// validateTranscriberName logs a warning if name is not a built-in backend.
func validateTranscriberName(field, name string) {
	if slices.Contains(ValidTranscriberNames, name) {
		return
	}
	slog.Warn("unknown transcriber name; may be a typo or a third-party backend",
		"field", field,
		"name", name,
		"known", ValidTranscriberNames,
	)
}
