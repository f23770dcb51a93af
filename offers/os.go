package offers

import (
	"os"
	"strconv"
	"strings"
)

// GetenvOrDefault returns the environment value for key, or defaultValue
// when the variable is unset or blank.
func GetenvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}

	return defaultValue
}

// GetenvIntOrDefault returns the integer environment value for key, or
// defaultValue when the variable is unset, blank, or not an integer.
func GetenvIntOrDefault(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

// GetenvBoolOrDefault returns the boolean environment value for key, or
// defaultValue when the variable is unset, blank, or not a boolean.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}
