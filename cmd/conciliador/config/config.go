// Package config loads the service configuration from file, environment and
// defaults, in that order of increasing precedence for the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"cfdi-reconciler/internal/matcher"
	"cfdi-reconciler/internal/reconciler"
	"cfdi-reconciler/pkg/logger"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Matching MatchingConfig `mapstructure:"matching"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Workers  int            `mapstructure:"workers"`
}

// ServerConfig holds the HTTP listener options.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig holds the SQLite options.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds the logger options.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MatchingConfig holds the pipeline tolerances overridable per deployment.
type MatchingConfig struct {
	ToleranceAmount float64 `mapstructure:"tolerancia_monto"`
	ToleranceDays   int     `mapstructure:"dias_tolerancia"`
	LookbackDays    int     `mapstructure:"dias_retroactivos"`
	MaxSuggestions  int     `mapstructure:"max_sugerencias"`
}

// AlertsConfig holds the alert thresholds overridable per deployment.
type AlertsConfig struct {
	LargeAmountThreshold  float64 `mapstructure:"umbral_descuadre"`
	MissingReferenceShare float64 `mapstructure:"proporcion_sin_referencia"`
}

// Load reads the configuration from the given file (optional) and the
// CONCILIADOR_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.path", "conciliador.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("workers", 0)

	defaults := matcher.DefaultMatchingConfig()
	tolerance, _ := defaults.ToleranceAmount.Float64()
	v.SetDefault("matching.tolerancia_monto", tolerance)
	v.SetDefault("matching.dias_tolerancia", defaults.ToleranceDays)
	v.SetDefault("matching.dias_retroactivos", defaults.LookbackDays)
	v.SetDefault("matching.max_sugerencias", defaults.MaxSuggestions)

	alertDefaults := reconciler.DefaultAlertConfig()
	threshold, _ := alertDefaults.LargeAmountThreshold.Float64()
	v.SetDefault("alerts.umbral_descuadre", threshold)
	v.SetDefault("alerts.proporcion_sin_referencia", alertDefaults.MissingReferenceShare)

	v.SetEnvPrefix("CONCILIADOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return &config, nil
}

// LoggerConfig converts the logging section to the logger package's config.
func (c *Config) LoggerConfig() *logger.Config {
	return &logger.Config{
		Level:  logger.Level(c.Logging.Level),
		Format: logger.Format(c.Logging.Format),
		File:   c.Logging.File,
	}
}

// ServiceConfig converts the matching and alert sections to the reconciler
// service configuration.
func (c *Config) ServiceConfig() *reconciler.Config {
	matching := matcher.DefaultMatchingConfig()
	matching.ToleranceAmount = decimal.NewFromFloat(c.Matching.ToleranceAmount)
	matching.ToleranceDays = c.Matching.ToleranceDays
	matching.LookbackDays = c.Matching.LookbackDays
	matching.MaxSuggestions = c.Matching.MaxSuggestions

	alerts := reconciler.DefaultAlertConfig()
	alerts.LargeAmountThreshold = decimal.NewFromFloat(c.Alerts.LargeAmountThreshold)
	alerts.MissingReferenceShare = c.Alerts.MissingReferenceShare

	return &reconciler.Config{
		Matching: matching,
		Alerts:   alerts,
		Workers:  c.Workers,
	}
}
