package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	KafkaBrokers    string
	ReadingsTopic   string
	ConsumerGroup   string
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTAlertTopic  string
	MQTTActionTopic string
	DBPath          string
	RedisAddr       string
	RedisPassword   string
	HistoryBackend  string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	LogFile         string
	LogToConsole    bool
	Scorer          string
	ModelPath       string
	RiskConfigPath  string
	Resolver        string

	HousekeepingInterval time.Duration
	SubjectIdleTimeout   time.Duration
	AlertRetention       time.Duration
	HistoryTTL           time.Duration

	Engine Engine

	// Warnings collects problems found while loading, for the caller to log once
	// its logger exists.
	Warnings []string
}

func LoadConfig() (*Config, error) {
	var warnings []string
	if err := godotenv.Load(); err != nil { // Looks for ".env" in the current directory
		warnings = append(warnings, "no .env file found, using environment variables or default values")
	}
	duration := func(key string, fallback time.Duration) time.Duration {
		d, err := getDuration(key, fallback)
		if err != nil {
			warnings = append(warnings, err.Error())
		}
		return d
	}

	cfg := &Config{
		KafkaBrokers:    getEnv("KAFKA_BROKERS", "localhost:9092"),
		ReadingsTopic:   getEnv("READINGS_TOPIC", "officer-heart-rate-topic"),
		ConsumerGroup:   getEnv("CONSUMER_GROUP", "officer_vitals"),
		MQTTBroker:      getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "OfficerVitals_local"),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),
		MQTTAlertTopic:  getEnv("MQTT_ALERT_TOPIC", "officers/alerts/immediate"),
		MQTTActionTopic: getEnv("MQTT_ACTION_TOPIC", "officers/alerts/action"),
		DBPath:          getEnv("DB_PATH", "vitals.db"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		HistoryBackend:  strings.ToLower(getEnv("HISTORY_BACKEND", "sqlite")),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		LogFile:         getEnv("LOG_FILE", "./logs/vitals.log"),
		LogToConsole:    strings.EqualFold(getEnv("LOG_TO_CONSOLE", "false"), "true"),
		Scorer:          strings.ToLower(getEnv("SCORER", "heuristic")),
		ModelPath:       getEnv("MODEL_PATH", ""),
		RiskConfigPath:  getEnv("RISK_CONFIG_PATH", ""),
		Resolver:        strings.ToLower(getEnv("RISK_RESOLVER", "passthrough")),

		HousekeepingInterval: duration("HOUSEKEEPING_INTERVAL", time.Minute),
		SubjectIdleTimeout:   duration("SUBJECT_IDLE_TIMEOUT", time.Hour),
		AlertRetention:       duration("ALERT_RETENTION", 24*time.Hour),
		HistoryTTL:           duration("HISTORY_TTL", 24*time.Hour),
	}
	cfg.Warnings = warnings

	engine, err := LoadEngine(cfg.RiskConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.Engine = engine
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// getDuration returns fallback, with an error saying so, when the value is not a positive duration.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback, fmt.Errorf("invalid duration %q for %s, using %s", value, key, fallback)
	}
	return d, nil
}
