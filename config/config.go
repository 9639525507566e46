// Package config loads securecore configuration from environment
// variables with typed sub-configs and sensible defaults. The host game
// builds a Config once at startup and passes it down; nothing in the SDK
// reads the environment after Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all securecore configuration.
type Config struct {
	// Application
	App AppConfig

	// Save-file storage
	Storage StorageConfig

	// Key derivation
	Crypto CryptoConfig

	// Integrity monitoring
	Integrity IntegrityConfig

	// Backend channel
	Network NetworkConfig

	// Local security audit trail
	Audit AuditConfig
}

// AppConfig holds general settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Debug       bool

	// BuildID identifies the shipped binary and is mixed into key
	// derivation, so saves do not move between builds with different
	// security characteristics.
	BuildID string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration
}

// StorageConfig holds save-slot settings.
type StorageConfig struct {
	// Dir is the directory holding both save slots and the install secret.
	Dir string

	// Slot file names (primary is always written first).
	PrimaryFile string
	BackupFile  string

	// SaveDebounce coalesces mutation bursts into one write.
	SaveDebounce time.Duration

	// Compress enables lz4 compression of the canonical plaintext
	// before encryption.
	Compress bool

	// Outlier thresholds: single-mutation deltas above these are
	// applied but flagged with a SecurityWarning.
	CoinsOutlierDelta      int64
	ExperienceOutlierDelta int64
}

// CryptoConfig holds key-derivation settings.
type CryptoConfig struct {
	// InstallSecretFile stores the per-install random salt, created on
	// first run. Key material is derived from device fingerprint +
	// build id + this salt; no literal keys ship in the binary.
	InstallSecretFile string

	// DeviceIDOverride lets the host app inject a platform identifier
	// (ANDROID_ID / identifierForVendor) where Go cannot read one.
	DeviceIDOverride string
}

// IntegrityConfig holds integrity-monitor settings.
type IntegrityConfig struct {
	// Enabled turns the whole monitor on/off.
	Enabled bool

	// StructuralInterval is how often type manifests are re-hashed.
	// Deliberately tens of seconds, not per-frame.
	StructuralInterval time.Duration

	// ObjectInterval is how often registered object probes run.
	ObjectInterval time.Duration

	// ClockTick is the clock-drift check interval.
	ClockTick time.Duration

	// Drift ratio bounds: wall-clock delta / monotonic delta outside
	// [Min,Max] counts as time manipulation.
	DriftRatioMin float64
	DriftRatioMax float64
}

// NetworkConfig holds backend channel settings.
type NetworkConfig struct {
	// BaseURL of the game backend.
	BaseURL string

	// APIKey sent on every request.
	APIKey string

	// RequestTimeout bounds every call; expiry surfaces as a network
	// error, never an indefinite block.
	RequestTimeout time.Duration

	// SigningEnabled attaches X-Timestamp and X-Signature headers.
	SigningEnabled bool

	// Throttle: more than ThrottleBurst requests to one endpoint within
	// ThrottleWindow are rejected locally; an endpoint's counter resets
	// after ThrottleIdleReset of inactivity.
	ThrottleBurst     int
	ThrottleWindow    time.Duration
	ThrottleIdleReset time.Duration

	// PinnedCertHashes is the allow-list of leaf certificate hashes
	// (hex). Empty list with PinningEnabled=true rejects every
	// handshake, so Validate() guards against it.
	PinningEnabled   bool
	PinnedCertHashes []string
}

// AuditConfig holds local audit-trail settings.
type AuditConfig struct {
	Enabled bool

	// Path of the sqlite database file.
	Path string

	// Retention for recorded security events.
	Retention time.Duration

	// PruneInterval is how often expired rows are deleted.
	PruneInterval time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App:       loadAppConfig(),
		Storage:   loadStorageConfig(),
		Crypto:    loadCryptoConfig(),
		Integrity: loadIntegrityConfig(),
		Network:   loadNetworkConfig(),
		Audit:     loadAuditConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadAppConfig() AppConfig {
	env := Environment(getEnv("SECURECORE_ENV", "development"))

	return AppConfig{
		Name:            getEnv("SECURECORE_APP_NAME", "pocketpaws"),
		Environment:     env,
		Debug:           env == EnvDevelopment || getEnvBool("SECURECORE_DEBUG", false),
		BuildID:         getEnv("SECURECORE_BUILD_ID", "dev"),
		ShutdownTimeout: getEnvDuration("SECURECORE_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Dir:                    getEnv("SECURECORE_SAVE_DIR", "save"),
		PrimaryFile:            getEnv("SECURECORE_SAVE_PRIMARY", "state.dat"),
		BackupFile:             getEnv("SECURECORE_SAVE_BACKUP", "state.bak"),
		SaveDebounce:           getEnvDuration("SECURECORE_SAVE_DEBOUNCE", 5*time.Second),
		Compress:               getEnvBool("SECURECORE_SAVE_COMPRESS", true),
		CoinsOutlierDelta:      int64(getEnvInt("SECURECORE_COINS_OUTLIER", 10000)),
		ExperienceOutlierDelta: int64(getEnvInt("SECURECORE_XP_OUTLIER", 2500)),
	}
}

func loadCryptoConfig() CryptoConfig {
	return CryptoConfig{
		InstallSecretFile: getEnv("SECURECORE_INSTALL_SECRET", "save/install.secret"),
		DeviceIDOverride:  getEnv("SECURECORE_DEVICE_ID", ""),
	}
}

func loadIntegrityConfig() IntegrityConfig {
	return IntegrityConfig{
		Enabled:            getEnvBool("SECURECORE_INTEGRITY_ENABLED", true),
		StructuralInterval: getEnvDuration("SECURECORE_STRUCTURAL_INTERVAL", 45*time.Second),
		ObjectInterval:     getEnvDuration("SECURECORE_OBJECT_INTERVAL", 30*time.Second),
		ClockTick:          getEnvDuration("SECURECORE_CLOCK_TICK", 10*time.Second),
		DriftRatioMin:      getEnvFloat("SECURECORE_DRIFT_MIN", 0.5),
		DriftRatioMax:      getEnvFloat("SECURECORE_DRIFT_MAX", 1.5),
	}
}

func loadNetworkConfig() NetworkConfig {
	return NetworkConfig{
		BaseURL:           getEnv("SECURECORE_API_URL", "https://api.pocketpaws.example"),
		APIKey:            getEnv("SECURECORE_API_KEY", ""),
		RequestTimeout:    getEnvDuration("SECURECORE_REQUEST_TIMEOUT", 15*time.Second),
		SigningEnabled:    getEnvBool("SECURECORE_SIGNING_ENABLED", true),
		ThrottleBurst:     getEnvInt("SECURECORE_THROTTLE_BURST", 10),
		ThrottleWindow:    getEnvDuration("SECURECORE_THROTTLE_WINDOW", time.Second),
		ThrottleIdleReset: getEnvDuration("SECURECORE_THROTTLE_IDLE_RESET", time.Minute),
		PinningEnabled:    getEnvBool("SECURECORE_PINNING_ENABLED", true),
		PinnedCertHashes:  getEnvStringSlice("SECURECORE_PINNED_CERTS", nil),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       getEnvBool("SECURECORE_AUDIT_ENABLED", true),
		Path:          getEnv("SECURECORE_AUDIT_PATH", "save/audit.db"),
		Retention:     getEnvDuration("SECURECORE_AUDIT_RETENTION", 30*24*time.Hour),
		PruneInterval: getEnvDuration("SECURECORE_AUDIT_PRUNE_INTERVAL", 24*time.Hour),
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []string

	if c.Storage.Dir == "" {
		errs = append(errs, "SECURECORE_SAVE_DIR must not be empty")
	}
	if c.Storage.PrimaryFile == c.Storage.BackupFile {
		errs = append(errs, "primary and backup slot files must differ")
	}
	if c.Storage.SaveDebounce <= 0 {
		errs = append(errs, "SECURECORE_SAVE_DEBOUNCE must be positive")
	}
	if c.Integrity.DriftRatioMin <= 0 || c.Integrity.DriftRatioMax <= c.Integrity.DriftRatioMin {
		errs = append(errs, "drift ratio bounds must satisfy 0 < min < max")
	}
	if c.Network.ThrottleBurst <= 0 {
		errs = append(errs, "SECURECORE_THROTTLE_BURST must be positive")
	}
	if c.Network.PinningEnabled && len(c.Network.PinnedCertHashes) == 0 && c.IsProduction() {
		errs = append(errs, "SECURECORE_PINNED_CERTS must be set when pinning is enabled in production")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// --- Helper functions for environment variable parsing ---

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}

	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		result = append(result, p)
	}
	return result
}
