package sqlstore

import (
	"fmt"

	"github.com/promptcraft/promptcraft-hybrid/config"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS security_events (
		id UUID PRIMARY KEY,
		event_type VARCHAR(64) NOT NULL,
		severity VARCHAR(16) NOT NULL,
		user_id VARCHAR(255) NOT NULL DEFAULT '',
		ip_address VARCHAR(45) NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		session_id VARCHAR(255) NOT NULL DEFAULT '',
		source VARCHAR(100) NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		details JSONB,
		risk_score INTEGER NOT NULL DEFAULT 0 CHECK (risk_score BETWEEN 0 AND 100),
		timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_timestamp ON security_events(timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events(event_type, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_severity ON security_events(severity)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_user_id ON security_events(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_ip_address ON security_events(ip_address)`,

	`CREATE TABLE IF NOT EXISTS security_alerts (
		id UUID PRIMARY KEY,
		rule_name VARCHAR(100) NOT NULL,
		priority VARCHAR(16) NOT NULL,
		title VARCHAR(255) NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		event_type VARCHAR(64) NOT NULL DEFAULT '',
		group_key VARCHAR(255) NOT NULL DEFAULT '',
		event_count INTEGER NOT NULL DEFAULT 0,
		first_seen TIMESTAMPTZ NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL,
		triggered_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
		acknowledged_by VARCHAR(255),
		acknowledged_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_security_alerts_triggered_at ON security_alerts(triggered_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_security_alerts_acknowledged ON security_alerts(acknowledged)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS security_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		details TEXT,
		risk_score INTEGER NOT NULL DEFAULT 0 CHECK (risk_score BETWEEN 0 AND 100),
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_timestamp ON security_events(timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events(event_type, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_severity ON security_events(severity)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_user_id ON security_events(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_security_events_ip_address ON security_events(ip_address)`,

	`CREATE TABLE IF NOT EXISTS security_alerts (
		id TEXT PRIMARY KEY,
		rule_name TEXT NOT NULL,
		priority TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL DEFAULT '',
		group_key TEXT NOT NULL DEFAULT '',
		event_count INTEGER NOT NULL DEFAULT 0,
		first_seen TIMESTAMP NOT NULL,
		last_seen TIMESTAMP NOT NULL,
		triggered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
		acknowledged_by TEXT,
		acknowledged_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_security_alerts_triggered_at ON security_alerts(triggered_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_security_alerts_acknowledged ON security_alerts(acknowledged)`,
}

func schemaFor(driver string) ([]string, error) {
	switch driver {
	case config.DriverPostgres:
		return postgresSchema, nil
	case config.DriverSQLite:
		return sqliteSchema, nil
	default:
		return nil, fmt.Errorf("no schema for driver %q", driver)
	}
}
