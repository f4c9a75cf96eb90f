package database

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		var err error
		dsn, err = mysqlDSN(cfg)
		if err != nil {
			return nil, err
		}
	}
	return gorm.Open(mysql.Open(dsn), gormConfig())
}

func mysqlDSN(cfg Config) (string, error) {
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("mysql configuration requires user and database name")
	}

	addr := net.JoinHostPort(
		hostOrDefault(cfg.Host, "127.0.0.1"),
		strconv.Itoa(portOrDefault(cfg.Port, 3306)),
	)

	// loc=UTC keeps parsed timestamps aligned with the UTC values embedded
	// in audit integrity tags.
	params := url.Values{}
	params.Set("charset", "utf8mb4")
	params.Set("parseTime", "True")
	params.Set("loc", "UTC")
	for key, value := range cfg.Options {
		params.Set(key, value)
	}

	credentials := cfg.User
	if cfg.Password != "" {
		credentials += ":" + cfg.Password
	}

	return fmt.Sprintf("%s@tcp(%s)/%s?%s", credentials, addr, cfg.Name, params.Encode()), nil
}
