package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"typeproof/internal/classifier"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets callers match any validation failure with errors.Is(err, ErrInvalidConfig).
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig && len(e) > 0
}

// Fields returns the names of the offending fields.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
	}
	return fields
}

// ValidateConfig performs comprehensive validation of the configuration.
// Warning-level findings do not fail validation; see Config.Warnings.
func ValidateConfig(c *Config) error {
	if errs := collect(c).Errors(); len(errs) > 0 {
		return errs
	}
	return nil
}

// Warnings returns the non-fatal findings for c.
func (c *Config) Warnings() ValidationErrors {
	return collect(c).Warnings()
}

func collect(c *Config) ValidationErrors {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateClassifier(&c.Classifier)...)
	errs = append(errs, validateVerify(&c.Verify)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLedger(&c.Ledger)...)
	errs = append(errs, validateSigning(&c.Signing)...)
	errs = append(errs, validateServer(&c.Server)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	return errs
}

func validateClassifier(t *classifier.Thresholds) ValidationErrors {
	var errs ValidationErrors

	if t.MinVariance < 0 || math.IsNaN(t.MinVariance) {
		errs = append(errs, ValidationError{
			Field:   "classifier.min_variance",
			Message: "min variance cannot be negative",
		})
	}
	if !(t.MaxVariance > t.MinVariance) {
		errs = append(errs, ValidationError{
			Field:   "classifier.max_variance",
			Message: fmt.Sprintf("max variance %g must exceed min variance %g", t.MaxVariance, t.MinVariance),
		})
	}
	if !(t.MaxBucketMass > 0 && t.MaxBucketMass <= 1) {
		errs = append(errs, *RangeError("classifier.max_bucket_mass", "0 (exclusive)", 1))
	}
	if t.EnforceMeanInterval {
		if t.MinMeanIntervalMs < 0 {
			errs = append(errs, ValidationError{
				Field:   "classifier.min_mean_interval_ms",
				Message: "min mean interval cannot be negative",
			})
		}
		if !(t.MaxMeanIntervalMs > t.MinMeanIntervalMs) {
			errs = append(errs, ValidationError{
				Field:   "classifier.max_mean_interval_ms",
				Message: "max mean interval must exceed min mean interval",
			})
		}
	}

	return errs
}

func validateVerify(v *VerifyConfig) ValidationErrors {
	var errs ValidationErrors

	if v.MaxClockSkewSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "verify.max_clock_skew_sec",
			Message: "clock skew cannot be negative",
		})
	}
	for i, k := range v.TrustedKeys {
		if b, err := hex.DecodeString(k); err != nil || len(b) != 32 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("verify.trusted_keys[%d]", i),
				Message: "expected a 64 character hex ed25519 public key",
			})
		}
	}
	if v.RequireSignature && len(v.TrustedKeys) == 0 {
		errs = append(errs, ValidationError{
			Field:   "verify.trusted_keys",
			Message: "warning: signatures are required but no key is trusted; any valid signature is accepted",
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if !s.Enabled {
		return errs
	}
	if s.Path == "" {
		errs = append(errs, *RequiredFieldError("storage.path"))
		return errs
	}
	if s.Path != ":memory:" && !filepath.IsAbs(expandPath(s.Path)) {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: fmt.Sprintf("warning: relative path %s resolves against the working directory", s.Path),
		})
	}

	return errs
}

func validateLedger(l *LedgerConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Backend {
	case LedgerSimulated:
	case LedgerRedis:
		if _, _, err := net.SplitHostPort(l.Redis.Address); err != nil {
			errs = append(errs, ValidationError{
				Field:   "ledger.redis.address",
				Message: fmt.Sprintf("invalid address %q (expected host:port)", l.Redis.Address),
			})
		}
		if l.Redis.DB < 0 {
			errs = append(errs, ValidationError{
				Field:   "ledger.redis.db",
				Message: "database index cannot be negative",
			})
		}
		if l.Redis.TTLHours < 0 {
			errs = append(errs, ValidationError{
				Field:   "ledger.redis.ttl_hours",
				Message: "ttl cannot be negative",
			})
		}
	case LedgerEthereum:
		if !isValidRPCURL(l.Ethereum.RPCURL) {
			errs = append(errs, ValidationError{
				Field:   "ledger.ethereum.rpc_url",
				Message: fmt.Sprintf("invalid RPC endpoint %q (http, https, ws, wss or .ipc path)", l.Ethereum.RPCURL),
			})
		}
		if l.Ethereum.TimeoutSec < 1 {
			errs = append(errs, ValidationError{
				Field:   "ledger.ethereum.timeout_sec",
				Message: "timeout must be at least 1 second",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("unknown ledger backend: %s (valid: simulated, redis, ethereum)", l.Backend),
		})
	}

	return errs
}

func validateSigning(s *SigningConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Enabled && s.KeyPath == "" {
		errs = append(errs, ValidationError{
			Field:   "signing.key_path",
			Message: "key path is required when signing is enabled",
		})
	}

	return errs
}

func validateServer(s *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "server.listen_addr",
			Message: fmt.Sprintf("invalid listen address %q", s.ListenAddr),
		})
	}
	if s.ReadTimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "server.read_timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}
	if s.WriteTimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "server.write_timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}
	if s.MaxBodyBytes < 1024 {
		errs = append(errs, ValidationError{
			Field:   "server.max_body_bytes",
			Message: "request body limit must be at least 1024 bytes",
		})
	}
	if s.RateLimitPerSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_per_sec",
			Message: "rate limit cannot be negative",
		})
	}
	if s.RateLimitPerSec > 0 && s.RateLimitBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_burst",
			Message: "burst must be at least 1 when rate limiting is enabled",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		errs = append(errs, ValidationError{
			Field:   "metrics.path",
			Message: fmt.Sprintf("metrics path must start with '/': %q", m.Path),
		})
	}

	return errs
}

// Helper functions

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func isValidRPCURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	if strings.HasSuffix(rawURL, ".ipc") {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return true
	}
	return false
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	return strings.HasPrefix(e.Message, "warning:")
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
