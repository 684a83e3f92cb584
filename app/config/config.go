package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"BillingApp/app/models"
	"BillingApp/app/remotedb"
	"BillingApp/app/security"

	"github.com/joho/godotenv"
)

// Mode selects the SQL endpoint the gateway talks to
type Mode string

const (
	// ModeRemote uses the hosted database
	ModeRemote Mode = "remote"
	// ModeLocal runs the query endpoint in-process over an embedded SQLite file
	ModeLocal Mode = "local"
)

// DefaultConfigFile is read when BILLING_CONFIG_FILE is unset
const DefaultConfigFile = "config.json"

// Environment variable names
const (
	EnvConfigFile           = "BILLING_CONFIG_FILE"
	EnvMode                 = "BILLING_MODE"
	EnvAccountID            = "CLOUDFLARE_ACCOUNT_ID"
	EnvDatabaseID           = "CLOUDFLARE_DATABASE_ID"
	EnvAPIToken             = "CLOUDFLARE_API_TOKEN"
	EnvBaseURL              = "BILLING_REMOTE_BASE_URL"
	EnvRequestTimeout       = "BILLING_REQUEST_TIMEOUT"
	EnvBootstrapTimeout     = "BILLING_BOOTSTRAP_TIMEOUT"
	EnvListenAddr           = "BILLING_LISTEN_ADDR"
	EnvLocalDB              = "BILLING_LOCAL_DB"
	EnvJournalDB            = "BILLING_JOURNAL_DB"
	EnvCompensationInterval = "BILLING_COMPENSATION_INTERVAL"
	EnvRequireUnique        = "BILL_NUMBER_REQUIRE_UNIQUE"
	EnvAutoGenerate         = "BILL_NUMBER_AUTOGENERATE"
	EnvAccessPIN            = "API_PIN"
	EnvMDNS                 = "BILLING_MDNS"
	EnvLogDir               = "BILLING_LOG_DIR"
	EnvLogRetentionDays     = "BILLING_LOG_RETENTION_DAYS"
	EnvCompanyName          = "BILLING_COMPANY_NAME"
	EnvCompanyUPI           = "BILLING_COMPANY_UPI_ID"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Mode Mode `json:"mode"`

	Remote   RemoteConfig   `json:"remote"`
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Bills    BillsConfig    `json:"bills"`
	Logging  LoggingConfig  `json:"logging"`
	Business BusinessConfig `json:"business"`
}

// RemoteConfig holds the hosted database settings. APIToken is stored encrypted.
type RemoteConfig struct {
	AccountID  string `json:"account_id"`
	DatabaseID string `json:"database_id"`
	APIToken   string `json:"api_token"`
	BaseURL    string `json:"base_url,omitempty"`

	RequestTimeoutSeconds   int `json:"request_timeout_seconds"`
	BootstrapTimeoutSeconds int `json:"bootstrap_timeout_seconds"`
}

// ServerConfig holds the HTTP API settings. AccessPIN is stored encrypted.
type ServerConfig struct {
	ListenAddr   string `json:"listen_addr"`
	AccessPIN    string `json:"access_pin,omitempty"`
	AnnounceMDNS bool   `json:"announce_mdns"`
}

// StorageConfig holds local file locations
type StorageConfig struct {
	LocalDBPath                 string `json:"local_db_path"`
	JournalPath                 string `json:"journal_path"`
	CompensationIntervalSeconds int    `json:"compensation_interval_seconds"`
}

// BillsConfig holds bill numbering policy
type BillsConfig struct {
	RequireUniqueNumber bool `json:"require_unique_number"`
	AutoGenerateNumber  bool `json:"auto_generate_number"`
}

// LoggingConfig holds log file settings
type LoggingConfig struct {
	Dir           string `json:"dir"`
	RetentionDays int    `json:"retention_days"`
}

// BusinessConfig seeds the company row on first start
type BusinessConfig struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	GSTNumber string `json:"gst_number"`
	UPIID     string `json:"upi_id"`
}

// Default returns the configuration used when nothing is set
func Default() *AppConfig {
	return &AppConfig{
		Mode: ModeRemote,
		Remote: RemoteConfig{
			RequestTimeoutSeconds:   30,
			BootstrapTimeoutSeconds: 60,
		},
		Server: ServerConfig{
			ListenAddr: ":8090",
		},
		Storage: StorageConfig{
			LocalDBPath:                 "billing-local.db",
			JournalPath:                 "billing-journal.db",
			CompensationIntervalSeconds: 60,
		},
		Bills: BillsConfig{
			RequireUniqueNumber: true,
			AutoGenerateNumber:  true,
		},
		Logging: LoggingConfig{
			Dir:           "logs",
			RetentionDays: 30,
		},
		Business: BusinessConfig{
			Name: "My Company",
		},
	}
}

// LoadOptions says where configuration comes from
type LoadOptions struct {
	// EnvFile is loaded with godotenv when present; a missing file is ignored
	EnvFile string
	// ConfigFile is the JSON file; empty means BILLING_CONFIG_FILE or config.json
	ConfigFile string
	// Keys opens encrypted fields of the JSON file
	Keys *security.KeyStore
}

// Load builds the configuration from defaults, the JSON file and the
// environment, in increasing precedence
func Load(opts LoadOptions) (*AppConfig, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("could not load %s: %w", opts.EnvFile, err)
		}
	}

	cfg := Default()

	path := ConfigPath(opts.ConfigFile)
	if _, err := os.Stat(path); err == nil {
		if err := cfg.readFile(path, opts.Keys); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not stat config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigPath resolves the JSON config file location
func ConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p
	}
	return DefaultConfigFile
}

func (cfg *AppConfig) readFile(path string, keys *security.KeyStore) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("could not parse config file: %w", err)
	}
	if err := cfg.decryptSensitiveFields(keys); err != nil {
		return fmt.Errorf("could not decrypt sensitive fields: %w", err)
	}
	return nil
}

// Save writes cfg to path with sensitive fields encrypted
func Save(path string, cfg *AppConfig, keys *security.KeyStore) error {
	// Encrypt a copy so cfg keeps the plaintext
	cfgCopy := *cfg
	if err := cfgCopy.encryptSensitiveFields(keys); err != nil {
		return fmt.Errorf("could not encrypt sensitive fields: %w", err)
	}

	data, err := json.MarshalIndent(&cfgCopy, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("could not create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("could not write config file: %w", err)
	}
	return nil
}

// WriteTemplate writes the default configuration to path unless a file is
// already there. It reports whether a file was written.
func WriteTemplate(path string, keys *security.KeyStore) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	return true, Save(path, Default(), keys)
}

// Validate fails fast on configuration the gateway cannot start with.
// In remote mode every missing credential is named by its env var.
func (cfg *AppConfig) Validate() error {
	switch cfg.Mode {
	case ModeRemote:
		var missing []string
		if strings.TrimSpace(cfg.Remote.AccountID) == "" {
			missing = append(missing, EnvAccountID)
		}
		if strings.TrimSpace(cfg.Remote.DatabaseID) == "" {
			missing = append(missing, EnvDatabaseID)
		}
		if strings.TrimSpace(cfg.Remote.APIToken) == "" {
			missing = append(missing, EnvAPIToken)
		}
		if len(missing) > 0 {
			return &remotedb.ConfigError{Missing: missing}
		}
	case ModeLocal:
		if cfg.Storage.LocalDBPath == "" {
			return &remotedb.ConfigError{Reason: "local mode needs a database path (" + EnvLocalDB + ")"}
		}
	default:
		return &remotedb.ConfigError{Reason: fmt.Sprintf("unknown mode %q, want %q or %q", cfg.Mode, ModeRemote, ModeLocal)}
	}

	if cfg.Remote.RequestTimeoutSeconds <= 0 {
		return &remotedb.ConfigError{Reason: "request timeout must be positive"}
	}
	if cfg.Server.ListenAddr == "" {
		return &remotedb.ConfigError{Reason: "listen address must not be empty (" + EnvListenAddr + ")"}
	}
	return nil
}

// ClientOptions returns the remote client settings
func (cfg *AppConfig) ClientOptions() remotedb.Options {
	return remotedb.Options{
		AccountID:  cfg.Remote.AccountID,
		DatabaseID: cfg.Remote.DatabaseID,
		APIToken:   cfg.Remote.APIToken,
		BaseURL:    cfg.Remote.BaseURL,
		Timeout:    cfg.RequestTimeout(),
	}
}

// RequestTimeout bounds each remote call
func (cfg *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(cfg.Remote.RequestTimeoutSeconds) * time.Second
}

// BootstrapTimeout bounds the one-time schema bootstrap
func (cfg *AppConfig) BootstrapTimeout() time.Duration {
	return time.Duration(cfg.Remote.BootstrapTimeoutSeconds) * time.Second
}

// CompensationInterval is the pause between journal replays
func (cfg *AppConfig) CompensationInterval() time.Duration {
	return time.Duration(cfg.Storage.CompensationIntervalSeconds) * time.Second
}

// CompanySeed returns the company row written when the table is empty
func (cfg *AppConfig) CompanySeed() models.CompanyInfo {
	b := cfg.Business
	return models.CompanyInfo{
		CompanyName: b.Name,
		Address:     b.Address,
		City:        b.City,
		State:       b.State,
		Phone:       b.Phone,
		Email:       b.Email,
		GSTNumber:   b.GSTNumber,
		UPIID:       b.UPIID,
	}
}

func (cfg *AppConfig) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := os.LookupEnv(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return &remotedb.ConfigError{Reason: fmt.Sprintf("%s must be true or false, got %q", name, v)}
		}
		*dst = b
		return nil
	}
	seconds := func(name string, dst *int) error {
		v, ok := os.LookupEnv(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := parseSeconds(strings.TrimSpace(v))
		if err != nil {
			return &remotedb.ConfigError{Reason: fmt.Sprintf("%s: %v", name, err)}
		}
		*dst = n
		return nil
	}

	var mode string
	str(EnvMode, &mode)
	if mode != "" {
		cfg.Mode = Mode(strings.ToLower(mode))
	}

	str(EnvAccountID, &cfg.Remote.AccountID)
	str(EnvDatabaseID, &cfg.Remote.DatabaseID)
	str(EnvAPIToken, &cfg.Remote.APIToken)
	str(EnvBaseURL, &cfg.Remote.BaseURL)
	str(EnvListenAddr, &cfg.Server.ListenAddr)
	str(EnvAccessPIN, &cfg.Server.AccessPIN)
	str(EnvLocalDB, &cfg.Storage.LocalDBPath)
	str(EnvJournalDB, &cfg.Storage.JournalPath)
	str(EnvLogDir, &cfg.Logging.Dir)
	str(EnvCompanyName, &cfg.Business.Name)
	str(EnvCompanyUPI, &cfg.Business.UPIID)

	for _, f := range []struct {
		name string
		dst  *bool
	}{
		{EnvRequireUnique, &cfg.Bills.RequireUniqueNumber},
		{EnvAutoGenerate, &cfg.Bills.AutoGenerateNumber},
		{EnvMDNS, &cfg.Server.AnnounceMDNS},
	} {
		if err := boolean(f.name, f.dst); err != nil {
			return err
		}
	}

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{EnvRequestTimeout, &cfg.Remote.RequestTimeoutSeconds},
		{EnvBootstrapTimeout, &cfg.Remote.BootstrapTimeoutSeconds},
		{EnvCompensationInterval, &cfg.Storage.CompensationIntervalSeconds},
	} {
		if err := seconds(f.name, f.dst); err != nil {
			return err
		}
	}

	if v := strings.TrimSpace(os.Getenv(EnvLogRetentionDays)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return &remotedb.ConfigError{Reason: fmt.Sprintf("%s must be a non-negative integer, got %q", EnvLogRetentionDays, v)}
		}
		cfg.Logging.RetentionDays = n
	}
	return nil
}

// parseSeconds accepts a plain number of seconds or a duration such as "90s"
func parseSeconds(v string) (int, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("must be positive, got %d", n)
		}
		return n, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if d < time.Second {
		return 0, fmt.Errorf("must be at least one second, got %s", v)
	}
	return int(d / time.Second), nil
}

// encryptSensitiveFields encrypts sensitive configuration fields
func (cfg *AppConfig) encryptSensitiveFields(keys *security.KeyStore) error {
	if keys == nil {
		return fmt.Errorf("no key store configured")
	}
	var err error
	if cfg.Remote.APIToken != "" {
		cfg.Remote.APIToken, err = keys.Encrypt(cfg.Remote.APIToken)
		if err != nil {
			return fmt.Errorf("could not encrypt API token: %w", err)
		}
	}
	if cfg.Server.AccessPIN != "" {
		cfg.Server.AccessPIN, err = keys.Encrypt(cfg.Server.AccessPIN)
		if err != nil {
			return fmt.Errorf("could not encrypt access PIN: %w", err)
		}
	}
	return nil
}

// decryptSensitiveFields decrypts sensitive configuration fields.
// A value that does not decrypt is kept as plain text (hand-edited files).
func (cfg *AppConfig) decryptSensitiveFields(keys *security.KeyStore) error {
	if keys == nil {
		return nil
	}
	for _, field := range []*string{&cfg.Remote.APIToken, &cfg.Server.AccessPIN} {
		if *field == "" {
			continue
		}
		if decrypted, err := keys.Decrypt(*field); err == nil {
			*field = decrypted
		}
	}
	return nil
}
