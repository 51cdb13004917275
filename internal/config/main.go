package config

import (
	"os"
	"strconv"
	"time"
)

var defaultValues = map[string]interface{}{
	// Broker (ioBroker simple-api)
	"SOLARMON_BROKER_URL":      "",   // simple-api base url, e.g. http://iobroker:8087; empty disables polling
	"SOLARMON_REQUEST_TIMEOUT": "2s", // per request timeout

	// VE.Direct serial ports, empty disables direct reads
	"SOLARMON_BMV_PORT":        "",
	"SOLARMON_MPPT_PORT":       "",
	"SOLARMON_SERIAL_BAUD":     19200,
	"SOLARMON_VEDIRECT_BLOCKS": 1, // blocks to read per device and cycle

	// Refresh cycle
	"SOLARMON_REFRESH_INTERVAL": "10m",
	"SOLARMON_STALE_AFTER":      "1h", // device shows "no update" after this
	"SOLARMON_HISTORY_OFFSET":   "3h", // history window ends this far after now
	"SOLARMON_CONFIG_FILE":      "",   // optional yaml topic and history map

	// Persistence
	"SOLARMON_PERSISTENCE_ENABLED":   false,
	"SOLARMON_DB_PATH":               "/tmp/solarmon.db",
	"SOLARMON_READINGS_BATCH":        100,
	"SOLARMON_READINGS_FLUSH":        "1m",
	"SOLARMON_BACKUP_ENABLED":        false,
	"SOLARMON_BACKUP_DIR":            "./backups",
	"SOLARMON_BACKUP_RETENTION_DAYS": 30,
	"SOLARMON_BACKUP_INTERVAL":       "24h",

	// Outputs
	"SOLARMON_HTTP_ADDR":   ":8080",
	"SOLARMON_NATS_URL":    "",
	"SOLARMON_NATS_PREFIX": "vedirect",

	"SOLARMON_DEBUG": false,
}

func StringValue(key string) string {
	if defaultValue, ok := defaultValues[key]; ok {
		return getEnvVar(key, defaultValue.(string)).(string)
	}
	return ""
}

// IntValue gets an int value from the env or default
func IntValue(key string) int {

	if defaultValue, ok := defaultValues[key]; ok {
		return getEnvVar(key, defaultValue.(int)).(int)
	}
	return 0
}

// BoolValue gets a bool value from the env or default
func BoolValue(key string) bool {

	if defaultValue, ok := defaultValues[key]; ok {
		return getEnvVar(key, defaultValue.(bool)).(bool)
	}
	return false
}

// DurationValue parses a duration string from the env, falling back to
// the default when the env value does not parse.
func DurationValue(key string) time.Duration {

	defaultValue, ok := defaultValues[key]
	if !ok {
		return 0
	}
	fallback, err := time.ParseDuration(defaultValue.(string))
	if err != nil {
		return 0
	}

	d, err := time.ParseDuration(StringValue(key))
	if err != nil {
		return fallback
	}
	return d
}

// PositiveDurationValue is DurationValue for intervals that must be
// above zero, such as ticker periods. Zero or negative env values fall
// back to the default.
func PositiveDurationValue(key string) time.Duration {

	if d := DurationValue(key); d > 0 {
		return d
	}

	defaultValue, ok := defaultValues[key]
	if !ok {
		return 0
	}
	fallback, _ := time.ParseDuration(defaultValue.(string))
	return fallback
}

func getEnvVar(key string, fallback interface{}) interface{} {

	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}

	switch fallback.(type) {
	case string:
		return value
	case bool:
		valueAsBool, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return valueAsBool
	case int:
		valueAsInt, err := strconv.Atoi(value)
		if err != nil {
			return fallback
		}
		return valueAsInt
	}
	return fallback
}
