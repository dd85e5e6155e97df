package config

import (
	"errors"
	"time"
)

// Validation status values reported by Status
const (
	ValidationPassed = "passed"
	ValidationFailed = "failed"
)

// ConfigurationStatus is the operator-facing summary of the loaded configuration.
// It never carries secret values.
type ConfigurationStatus struct {
	Environment       string    `json:"environment"`
	Version           string    `json:"version"`
	Debug             bool      `json:"debug"`
	ConfigSource      string    `json:"config_source"`
	ValidationStatus  string    `json:"validation_status"`
	ValidationErrors  []string  `json:"validation_errors"`
	SecretsConfigured int       `json:"secrets_configured"`
	APIHost           string    `json:"api_host"`
	APIPort           int       `json:"api_port"`
	Timestamp         time.Time `json:"timestamp"`
}

// Healthy reports whether validation passed
func (s ConfigurationStatus) Healthy() bool {
	return s.ValidationStatus == ValidationPassed
}

// Status summarises the configuration given the result of Validate
func (c *Config) Status(validationErr error) ConfigurationStatus {
	status := ConfigurationStatus{
		Environment:       c.Environment,
		Version:           c.Version,
		Debug:             c.Debug,
		ConfigSource:      c.Source,
		ValidationStatus:  ValidationPassed,
		ValidationErrors:  []string{},
		SecretsConfigured: c.countSecrets(),
		APIHost:           c.Server.Host,
		APIPort:           c.Server.Port,
		Timestamp:         time.Now().UTC(),
	}
	if status.ConfigSource == "" {
		status.ConfigSource = "env_vars"
	}
	if validationErr != nil {
		status.ValidationStatus = ValidationFailed
		status.ValidationErrors = sanitizeErrors(validationErr)
	}
	return status
}

func (c *Config) countSecrets() int {
	n := 0
	for _, v := range []string{
		c.Security.SecretKey,
		c.Security.JWTSecret,
		c.Database.Password,
		c.Database.ConnectionString,
		c.Alerting.WebhookURL,
	} {
		if v != "" {
			n++
		}
	}
	return n
}

// sanitizeErrors reports field names and rule messages only. Rule messages are
// written by Validate and never echo the offending value.
func sanitizeErrors(err error) []string {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return []string{"configuration could not be validated"}
	}
	out := make([]string, 0, len(verr.Fields))
	for _, field := range sortedKeys(verr.Fields) {
		out = append(out, field+": "+verr.Fields[field])
	}
	return out
}
