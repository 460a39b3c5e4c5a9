package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Scan     ScanConfig
	HTTP     HTTPConfig
	APIs     APIConfig
	Probe    ProbeConfig
	Resolver ResolverConfig
	Database DatabaseConfig
}

// AppConfig holds application configuration
type AppConfig struct {
	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// ScanConfig holds scan pipeline configuration
type ScanConfig struct {
	ResultsDir       string
	ToolTimeout      time.Duration
	DefaultFormat    string
	ToolSearchPaths  []string
	WordlistPaths    []string
	CronSchedule     string
	ScheduledTargets []string
}

// HTTPConfig holds HTTP client configuration for passive sources
type HTTPConfig struct {
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// APIConfig holds API configuration
type APIConfig struct {
	Chaos ChaosConfig
	CrtSh CrtShConfig
}

// ChaosConfig holds Chaos API configuration
type ChaosConfig struct {
	APIKey    string
	RateLimit int
}

// CrtShConfig holds crt.sh configuration
type CrtShConfig struct {
	RateLimit int
}

// ProbeConfig holds liveness probe configuration
type ProbeConfig struct {
	InProcess           bool
	Concurrency         int
	RateLimit           int
	Timeout             time.Duration
	HttprobeConcurrency int
	HttprobeTimeoutMs   int
}

// ResolverConfig holds DNS resolution configuration
type ResolverConfig struct {
	InProcess bool
	Servers   []string
	Timeout   time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	ConnectTimeout  time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Output formats accepted by the report writer
var ValidFormats = []string{"txt", "csv", "json", "html"}

// DefaultToolSearchPaths are the prefixes checked after PATH lookup fails
var DefaultToolSearchPaths = []string{
	"/usr/bin/",
	"/usr/local/bin/",
	"/go/bin/",
	"/root/go/bin/",
	"/host/usr/bin/",
	"/host/usr/local/bin/",
	"/host/go/bin/",
}

// DefaultWordlistPaths are the wordlists ffuf brute forcing tries in order
var DefaultWordlistPaths = []string{
	"/usr/share/wordlists/subdomains.txt",
	"/usr/share/seclists/Discovery/DNS/subdomains-top1million-110000.txt",
	"/root/tools/wordlists/subdomains.txt",
	"/app/wordlists/subdomains.txt",
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	config := &Config{}

	// Application configuration
	logMaxSize, err := strconv.Atoi(getEnv("LOG_MAX_SIZE_MB", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_MAX_SIZE_MB: %w", err)
	}

	logMaxBackups, err := strconv.Atoi(getEnv("LOG_MAX_BACKUPS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_MAX_BACKUPS: %w", err)
	}

	config.App = AppConfig{
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  logMaxSize,
		LogMaxBackups: logMaxBackups,
		Environment:   getEnv("ENVIRONMENT", "development"),
	}

	// Server configuration
	readTimeout, err := time.ParseDuration(getEnv("SERVER_READ_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_READ_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := time.ParseDuration(getEnv("SERVER_SHUTDOWN_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT: %w", err)
	}

	config.Server = ServerConfig{
		Addr:            getEnv("SERVER_ADDR", "0.0.0.0:5000"),
		ReadTimeout:     readTimeout,
		ShutdownTimeout: shutdownTimeout,
	}

	// Scan configuration
	toolTimeout, err := time.ParseDuration(getEnv("TOOL_TIMEOUT", "300s"))
	if err != nil {
		return nil, fmt.Errorf("invalid TOOL_TIMEOUT: %w", err)
	}

	config.Scan = ScanConfig{
		ResultsDir:       getEnv("RESULTS_DIR", "./results"),
		ToolTimeout:      toolTimeout,
		DefaultFormat:    strings.ToLower(getEnv("DEFAULT_OUTPUT_FORMAT", "txt")),
		ToolSearchPaths:  getEnvList("TOOL_SEARCH_PATHS", DefaultToolSearchPaths),
		WordlistPaths:    getEnvList("WORDLIST_PATHS", DefaultWordlistPaths),
		CronSchedule:     getEnv("CRON_SCHEDULE", ""),
		ScheduledTargets: getEnvList("SCHEDULED_TARGETS", nil),
	}

	// HTTP configuration
	timeout, err := time.ParseDuration(getEnv("HTTP_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}

	retryDelay, err := time.ParseDuration(getEnv("HTTP_RETRY_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_RETRY_DELAY: %w", err)
	}

	retryAttempts, err := strconv.Atoi(getEnv("HTTP_RETRY_ATTEMPTS", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_RETRY_ATTEMPTS: %w", err)
	}

	config.HTTP = HTTPConfig{
		Timeout:       timeout,
		RetryAttempts: retryAttempts,
		RetryDelay:    retryDelay,
	}

	// API configuration
	chaosRateLimit, err := strconv.Atoi(getEnv("CHAOS_RATE_LIMIT", "55"))
	if err != nil {
		return nil, fmt.Errorf("invalid CHAOS_RATE_LIMIT: %w", err)
	}

	crtShRateLimit, err := strconv.Atoi(getEnv("CRTSH_RATE_LIMIT", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid CRTSH_RATE_LIMIT: %w", err)
	}

	config.APIs = APIConfig{
		Chaos: ChaosConfig{
			APIKey:    getEnv("CHAOS_API_KEY", ""),
			RateLimit: chaosRateLimit,
		},
		CrtSh: CrtShConfig{
			RateLimit: crtShRateLimit,
		},
	}

	// Probe configuration
	probeInProcess, err := strconv.ParseBool(getEnv("PROBE_INPROCESS", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROBE_INPROCESS: %w", err)
	}

	probeConcurrency, err := strconv.Atoi(getEnv("PROBE_CONCURRENCY", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROBE_CONCURRENCY: %w", err)
	}

	probeRateLimit, err := strconv.Atoi(getEnv("PROBE_RATE_LIMIT", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROBE_RATE_LIMIT: %w", err)
	}

	probeTimeout, err := time.ParseDuration(getEnv("PROBE_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROBE_TIMEOUT: %w", err)
	}

	httprobeConcurrency, err := strconv.Atoi(getEnv("HTTPROBE_CONCURRENCY", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTPROBE_CONCURRENCY: %w", err)
	}

	httprobeTimeout, err := strconv.Atoi(getEnv("HTTPROBE_TIMEOUT_MS", "3000"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTPROBE_TIMEOUT_MS: %w", err)
	}

	config.Probe = ProbeConfig{
		InProcess:           probeInProcess,
		Concurrency:         probeConcurrency,
		RateLimit:           probeRateLimit,
		Timeout:             probeTimeout,
		HttprobeConcurrency: httprobeConcurrency,
		HttprobeTimeoutMs:   httprobeTimeout,
	}

	// Resolver configuration
	resolverInProcess, err := strconv.ParseBool(getEnv("RESOLVER_INPROCESS", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid RESOLVER_INPROCESS: %w", err)
	}

	resolverTimeout, err := time.ParseDuration(getEnv("RESOLVER_TIMEOUT", "3s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RESOLVER_TIMEOUT: %w", err)
	}

	config.Resolver = ResolverConfig{
		InProcess: resolverInProcess,
		Servers:   getEnvList("RESOLVER_SERVERS", []string{"1.1.1.1:53", "8.8.8.8:53"}),
		Timeout:   resolverTimeout,
	}

	// Database configuration
	dbEnabled, err := strconv.ParseBool(getEnv("DB_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_ENABLED: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpenConns, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	connectTimeout, err := time.ParseDuration(getEnv("DB_CONNECT_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONNECT_TIMEOUT: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(getEnv("DB_CONN_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	config.Database = DatabaseConfig{
		Enabled:         dbEnabled,
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            dbPort,
		Name:            getEnv("DB_NAME", "subarg"),
		User:            getEnv("DB_USER", "subarg"),
		Password:        getEnv("DB_PASSWORD", ""),
		SSLMode:         getEnv("DB_SSL_MODE", "disable"),
		ConnectTimeout:  connectTimeout,
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateApp(); err != nil {
		errors = append(errors, fmt.Sprintf("application: %v", err))
	}

	if err := c.validateServer(); err != nil {
		errors = append(errors, fmt.Sprintf("server: %v", err))
	}

	if err := c.validateScan(); err != nil {
		errors = append(errors, fmt.Sprintf("scan: %v", err))
	}

	if err := c.validateHTTP(); err != nil {
		errors = append(errors, fmt.Sprintf("HTTP: %v", err))
	}

	if err := c.validateProbe(); err != nil {
		errors = append(errors, fmt.Sprintf("probe: %v", err))
	}

	if err := c.validateDatabase(); err != nil {
		errors = append(errors, fmt.Sprintf("database: %v", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// validateApp validates application configuration
func (c *Config) validateApp() error {
	validLogLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLogLevels, c.App.LogLevel) {
		return fmt.Errorf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", "))
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.App.LogFormat) {
		return fmt.Errorf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", "))
	}

	if c.App.LogFile != "" && (c.App.LogMaxSizeMB <= 0 || c.App.LogMaxBackups < 0) {
		return fmt.Errorf("LOG_MAX_SIZE_MB must be greater than 0 and LOG_MAX_BACKUPS cannot be negative")
	}

	validEnvironments := []string{"development", "staging", "production"}
	if !contains(validEnvironments, c.App.Environment) {
		return fmt.Errorf("ENVIRONMENT must be one of: %s", strings.Join(validEnvironments, ", "))
	}

	return nil
}

// validateServer validates server configuration
func (c *Config) validateServer() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("SERVER_ADDR is required")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	return nil
}

// validateScan validates scan configuration
func (c *Config) validateScan() error {
	if c.Scan.ResultsDir == "" {
		return fmt.Errorf("RESULTS_DIR is required")
	}
	if c.Scan.ToolTimeout <= 0 {
		return fmt.Errorf("TOOL_TIMEOUT must be greater than 0")
	}
	if !contains(ValidFormats, c.Scan.DefaultFormat) {
		return fmt.Errorf("DEFAULT_OUTPUT_FORMAT must be one of: %s", strings.Join(ValidFormats, ", "))
	}

	// Cron schedules are parsed by the scheduler; only require targets alongside one
	if c.Scan.CronSchedule != "" && len(c.Scan.ScheduledTargets) == 0 {
		return fmt.Errorf("SCHEDULED_TARGETS is required when CRON_SCHEDULE is set")
	}

	return nil
}

// validateHTTP validates HTTP configuration
func (c *Config) validateHTTP() error {
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be greater than 0")
	}
	if c.HTTP.RetryAttempts < 0 || c.HTTP.RetryAttempts > 10 {
		return fmt.Errorf("HTTP_RETRY_ATTEMPTS must be between 0 and 10")
	}
	if c.HTTP.RetryDelay <= 0 {
		return fmt.Errorf("HTTP_RETRY_DELAY must be greater than 0")
	}
	if c.APIs.Chaos.RateLimit <= 0 || c.APIs.Chaos.RateLimit > 60 {
		return fmt.Errorf("CHAOS_RATE_LIMIT must be between 1 and 60")
	}
	if c.APIs.CrtSh.RateLimit <= 0 || c.APIs.CrtSh.RateLimit > 60 {
		return fmt.Errorf("CRTSH_RATE_LIMIT must be between 1 and 60")
	}

	return nil
}

// validateProbe validates probe and resolver configuration
func (c *Config) validateProbe() error {
	if c.Probe.Concurrency <= 0 || c.Probe.Concurrency > 500 {
		return fmt.Errorf("PROBE_CONCURRENCY must be between 1 and 500")
	}
	if c.Probe.RateLimit <= 0 {
		return fmt.Errorf("PROBE_RATE_LIMIT must be greater than 0")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("PROBE_TIMEOUT must be greater than 0")
	}
	if c.Probe.HttprobeConcurrency <= 0 {
		return fmt.Errorf("HTTPROBE_CONCURRENCY must be greater than 0")
	}
	if c.Probe.HttprobeTimeoutMs <= 0 {
		return fmt.Errorf("HTTPROBE_TIMEOUT_MS must be greater than 0")
	}
	if c.Resolver.InProcess && len(c.Resolver.Servers) == 0 {
		return fmt.Errorf("RESOLVER_SERVERS is required when RESOLVER_INPROCESS is true")
	}
	if c.Resolver.Timeout <= 0 {
		return fmt.Errorf("RESOLVER_TIMEOUT must be greater than 0")
	}

	return nil
}

// validateDatabase validates database configuration when history is enabled
func (c *Config) validateDatabase() error {
	if !c.Database.Enabled {
		return nil
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}

	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !contains(validSSLModes, c.Database.SSLMode) {
		return fmt.Errorf("DB_SSL_MODE must be one of: %s", strings.Join(validSSLModes, ", "))
	}

	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be greater than 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("DB_MAX_IDLE_CONNS must be greater than 0")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS cannot be greater than DB_MAX_OPEN_CONNS")
	}

	return nil
}

// HasChaosConfig reports whether the Chaos source can be used
func (c *Config) HasChaosConfig() bool {
	return c.APIs.Chaos.APIKey != ""
}

// IsValidFormat reports whether format is a supported report format
func IsValidFormat(format string) bool {
	return contains(ValidFormats, strings.ToLower(format))
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		c.Database.Host, c.Database.Port, c.Database.Name, c.Database.User, c.Database.Password,
		c.Database.SSLMode, int(c.Database.ConnectTimeout.Seconds()))
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma separated environment variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
