package config

import (
	"fmt"
	"strings"
)

// Common placeholder values that should never be used
var commonPlaceholders = []string{
	"changeme",
	"please_change_me",
	"your_api_key",
	"your_secret",
	"placeholder",
	"example",
	"sample",
	"demo",
	"test",
}

// SecretValidationResult contains the result of secret validation
type SecretValidationResult struct {
	IsValid  bool
	Errors   []string
	Warnings []string
}

// ValidateSecret checks a credential for emptiness, placeholder values and
// minimum length
func ValidateSecret(secret string, name string, minLength int) SecretValidationResult {
	result := SecretValidationResult{IsValid: true}

	if secret == "" {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("%s cannot be empty", name))
		return result
	}

	lowerSecret := strings.ToLower(secret)
	for _, placeholder := range commonPlaceholders {
		if strings.Contains(lowerSecret, placeholder) {
			result.IsValid = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s appears to be a placeholder value (%s)", name, placeholder))
			return result
		}
	}

	if len(secret) < minLength {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("%s must be at least %d characters (got %d)", name, minLength, len(secret)))
		return result
	}

	if hasRepeatedChars(secret, 3) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s contains repeated characters", name))
	}

	return result
}

// hasRepeatedChars checks if the string has the same character repeated n times
func hasRepeatedChars(s string, n int) bool {
	if len(s) < n {
		return false
	}

	for i := 0; i < len(s)-n+1; i++ {
		allSame := true
		for j := 1; j < n; j++ {
			if s[i+j] != s[i] {
				allSame = false
				break
			}
		}
		if allSame {
			return true
		}
	}

	return false
}

// ValidateProductionSecrets validates the exchange and Redis credentials for
// production use
func ValidateProductionSecrets(cfg *Config) ValidationErrors {
	var errors ValidationErrors

	const minProductionLength = 12

	if cfg.Redis.Enabled && cfg.Redis.Password != "" {
		result := ValidateSecret(cfg.Redis.Password, "Redis password", minProductionLength)
		for _, err := range result.Errors {
			errors = append(errors, ValidationError{Field: "redis.password", Message: err})
		}
	}

	if cfg.Exchange.Name != "binance" {
		return errors
	}

	// Exchange-generated keys are long random strings; only placeholders and
	// truncated values are caught here
	result := ValidateSecret(cfg.Exchange.APIKey, "Exchange API key", 10)
	for _, err := range result.Errors {
		errors = append(errors, ValidationError{Field: "exchange.api_key", Message: err})
	}

	result = ValidateSecret(cfg.Exchange.SecretKey, "Exchange secret key", 10)
	for _, err := range result.Errors {
		errors = append(errors, ValidationError{Field: "exchange.secret_key", Message: err})
	}

	return errors
}
