package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath string

	// AMQP; empty URL means recognition runs in-process
	AMQPURL         string
	AMQPExchange    string
	AMQPScanQueue   string
	AMQPResultQueue string

	// OCR
	OCRBackend  string
	OCRLanguage string

	// Scan jobs
	ScanJobTTL   time.Duration
	MaxImageSize int
}

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8081"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/recus.db"),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "recus"),
		AMQPScanQueue:   getEnv("AMQP_SCAN_QUEUE", "scan_jobs"),
		AMQPResultQueue: getEnv("AMQP_RESULT_QUEUE", "scan_results"),

		OCRBackend:  getEnv("OCR_BACKEND", "vision"),
		OCRLanguage: getEnv("OCR_LANGUAGE", "fra"),

		ScanJobTTL:   getEnvDuration("SCAN_JOB_TTL", 15*time.Minute),
		MaxImageSize: getEnvInt("MAX_IMAGE_SIZE", 10<<20),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate database path
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate OCR backend
	validBackends := []string{"vision", "memory", "none"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.OCRBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid OCR backend '%s': must be one of %v", c.OCRBackend, validBackends))
	}

	if c.OCRLanguage == "" {
		errors = append(errors, "OCR language cannot be empty")
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPScanQueue == "" {
			errors = append(errors, "AMQP scan queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPResultQueue == "" {
			errors = append(errors, "AMQP result queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPScanQueue != "" && c.AMQPScanQueue == c.AMQPResultQueue {
			errors = append(errors, "AMQP scan and result queues must be distinct")
		}

		// The worker does the recognizing when AMQP is configured, so
		// the server side cannot also be set to run without an engine.
		if c.OCRBackend == "none" {
			errors = append(errors, "OCR backend 'none' cannot be combined with an AMQP URL")
		}
	}

	// Validate scan job settings
	if c.ScanJobTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid scan job TTL %v: must be at least 1 minute", c.ScanJobTTL))
	} else if c.ScanJobTTL > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid scan job TTL %v: must be at most 24 hours", c.ScanJobTTL))
	}

	if c.MaxImageSize < 1<<10 {
		errors = append(errors, fmt.Sprintf("invalid max image size %d: must be at least 1KiB", c.MaxImageSize))
	} else if c.MaxImageSize > 50<<20 {
		errors = append(errors, fmt.Sprintf("invalid max image size %d: must be at most 50MiB", c.MaxImageSize))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
