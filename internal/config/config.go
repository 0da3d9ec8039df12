package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	RetentionKeep  = "keep"
	RetentionPurge = "purge"
)

// DBParams are the discrete connection settings used when DATABASE_URL is
// not set.
type DBParams struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type Config struct {
	DatabaseURL string
	DB          DBParams
	DBMaxConns  int32

	LandingDir     string
	ArchiveDir     string
	ErrorDir       string
	LogDir         string
	FailureLogFile string

	Verbose          bool
	RunAsAgent       bool
	AgentInterval    time.Duration
	AgentWatch       bool
	APIPort          string
	StagingRetention string
}

// New resolves the configuration from the environment and an optional
// config.yaml found under CONFIG_PATH. Environment variables win.
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(envOr("CONFIG_PATH", "."))
	v.AutomaticEnv()

	v.SetDefault("LANDING_DIR", "./landing_zone")
	v.SetDefault("ARCHIVE_DIR", "./archive")
	v.SetDefault("ERROR_DIR", "./error")
	v.SetDefault("LOG_DIR", "./logs")
	v.SetDefault("VERBOSE_LOGS", "false")
	v.SetDefault("RUN_AS_AGENT", "false")
	v.SetDefault("AGENT_INTERVAL", "5m")
	v.SetDefault("AGENT_WATCH", "true")
	v.SetDefault("API_PORT", "8080")
	v.SetDefault("STAGING_RETENTION", RetentionKeep)
	v.SetDefault("DB_MAX_CONNS", 5)
	v.SetDefault("PGSSLMODE", "disable")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL: strings.TrimSpace(v.GetString("DATABASE_URL")),
		LandingDir:  v.GetString("LANDING_DIR"),
		ArchiveDir:  v.GetString("ARCHIVE_DIR"),
		ErrorDir:    v.GetString("ERROR_DIR"),
		LogDir:      v.GetString("LOG_DIR"),
		APIPort:     v.GetString("API_PORT"),
	}

	cfg.FailureLogFile = v.GetString("FAILURE_LOG_FILE")
	if cfg.FailureLogFile == "" {
		cfg.FailureLogFile = filepath.Join(cfg.LogDir, "failures.log")
	}

	var err error
	if cfg.DB, err = resolveDBParams(v); err != nil {
		return nil, err
	}

	maxConns := v.GetInt("DB_MAX_CONNS")
	if maxConns <= 0 {
		return nil, fmt.Errorf("invalid value for DB_MAX_CONNS: expected a positive integer, got '%s'", v.GetString("DB_MAX_CONNS"))
	}
	cfg.DBMaxConns = int32(maxConns)

	for key, dst := range map[string]*bool{
		"VERBOSE_LOGS": &cfg.Verbose,
		"RUN_AS_AGENT": &cfg.RunAsAgent,
		"AGENT_WATCH":  &cfg.AgentWatch,
	} {
		if *dst, err = ParseBool(v.GetString(key)); err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}

	cfg.AgentInterval, err = time.ParseDuration(v.GetString("AGENT_INTERVAL"))
	if err != nil || cfg.AgentInterval <= 0 {
		return nil, fmt.Errorf("invalid value for AGENT_INTERVAL: expected a positive duration, got '%s'", v.GetString("AGENT_INTERVAL"))
	}

	cfg.StagingRetention = strings.ToLower(v.GetString("STAGING_RETENTION"))
	if cfg.StagingRetention != RetentionKeep && cfg.StagingRetention != RetentionPurge {
		return nil, fmt.Errorf("invalid value for STAGING_RETENTION: expected keep or purge, got '%s'", cfg.StagingRetention)
	}

	return cfg, nil
}

// ConnString returns DATABASE_URL when set, otherwise a URL built from the
// discrete parameters.
func (c *Config) ConnString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     net.JoinHostPort(c.DB.Host, strconv.Itoa(c.DB.Port)),
		Path:     "/" + c.DB.Name,
		RawQuery: url.Values{"sslmode": []string{c.DB.SSLMode}}.Encode(),
	}
	return u.String()
}

// PurgeStaging reports whether staged rows are deleted after each run.
func (c *Config) PurgeStaging() bool {
	return c.StagingRetention == RetentionPurge
}

// ParseBool accepts 1/true/yes/on and 0/false/no/off in any case. An empty
// value is false.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "", "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("expected a boolean, got '%s'", value)
}

// resolveDBParams applies PG* > POSTGRES_* > DB_* precedence per field.
func resolveDBParams(v *viper.Viper) (DBParams, error) {
	params := DBParams{
		Host:     firstSet(v, "localhost", "PGHOST", "POSTGRES_HOST", "DB_HOST"),
		Name:     firstSet(v, "postgres", "PGDATABASE", "POSTGRES_DB", "DB_NAME"),
		User:     firstSet(v, "postgres", "PGUSER", "POSTGRES_USER", "DB_USER"),
		Password: firstSet(v, "", "PGPASSWORD", "POSTGRES_PASSWORD", "DB_PASSWORD"),
		SSLMode:  v.GetString("PGSSLMODE"),
	}

	portStr := firstSet(v, "5432", "PGPORT", "POSTGRES_PORT", "DB_PORT")
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return DBParams{}, fmt.Errorf("invalid database port: expected an integer, got '%s'", portStr)
	}
	params.Port = port

	return params, nil
}

func firstSet(v *viper.Viper, fallback string, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(v.GetString(key)); value != "" {
			return value
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
