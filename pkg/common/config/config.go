package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers    []string
	KafkaGroupID    string
	KafkaAlertTopic string
	KafkaInputTopic string

	// PHI detection
	RulesPath          string
	CatalogPath        string
	MergeWeightPrimary float64
	FuzzyThreshold     float64

	// Ensemble classifier
	EnsembleEnabled  bool
	EnsembleABRate   float64 // fraction of users routed to the enhanced path
	MaxSequenceLen   int
	EnsembleWorkers  int
	InferenceTimeout time.Duration

	// Calibration
	CalibrationLearningRate float64
	CalibrationMinSamples   int
}

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "dictamed"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "dictamed123"),
		PostgresDB:       getEnv("POSTGRES_DB", "dictamed"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "dictamed-compliance"),
		KafkaAlertTopic: getEnv("KAFKA_ALERT_TOPIC", "compliance-events"),
		KafkaInputTopic: getEnv("KAFKA_INPUT_TOPIC", "dictation-events"),

		RulesPath:          getEnv("PHI_RULES_PATH", ""),
		CatalogPath:        getEnv("CODE_CATALOG_PATH", ""),
		MergeWeightPrimary: getFloatEnv("MERGE_WEIGHT_PRIMARY", 0.6),
		FuzzyThreshold:     getFloatEnv("FUZZY_MATCH_THRESHOLD", 0.85),

		EnsembleEnabled:  getBoolEnv("ENSEMBLE_ENABLED", true),
		EnsembleABRate:   getFloatEnv("ENSEMBLE_AB_RATE", 1.0),
		MaxSequenceLen:   getIntEnv("MAX_SEQUENCE_LENGTH", 512),
		EnsembleWorkers:  getIntEnv("ENSEMBLE_WORKERS", 4),
		InferenceTimeout: getDuration("INFERENCE_TIMEOUT", 5*time.Second),

		CalibrationLearningRate: getFloatEnv("CALIBRATION_LEARNING_RATE", 0.01),
		CalibrationMinSamples:   getIntEnv("CALIBRATION_MIN_SAMPLES", 10),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return []string{value}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
