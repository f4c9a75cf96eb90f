package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		var err error
		dsn, err = postgresDSN(cfg)
		if err != nil {
			return nil, err
		}
	}
	return gorm.Open(postgres.Open(dsn), gormConfig())
}

func postgresDSN(cfg Config) (string, error) {
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres configuration requires user and database name")
	}

	// TimeZone=UTC keeps stored timestamps aligned with the UTC values
	// embedded in audit integrity tags. Both are overridable.
	settings := map[string]string{
		"host":     hostOrDefault(cfg.Host, "localhost"),
		"port":     fmt.Sprintf("%d", portOrDefault(cfg.Port, 5432)),
		"user":     cfg.User,
		"dbname":   cfg.Name,
		"sslmode":  "disable",
		"TimeZone": "UTC",
	}
	if cfg.Password != "" {
		settings["password"] = cfg.Password
	}
	for key, value := range cfg.Options {
		settings[key] = value
	}

	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%s", key, settings[key])
	}
	return b.String(), nil
}
