package mysql

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Config holds MySQL/TiDB connection settings, bound with the DB_ prefix.
type Config struct {
	Host            string `split_words:"true" default:"127.0.0.1"`
	Port            int    `split_words:"true" default:"4000"`
	User            string `split_words:"true" default:"root"`
	Password        string `split_words:"true"`
	Name            string `split_words:"true" default:"falaai_db"`
	TLS             bool   `envconfig:"TLS" default:"true"`
	MaxOpenConns    int    `split_words:"true" default:"10"`
	MaxIdleConns    int    `split_words:"true" default:"5"`
	ConnMaxLifetime int    `split_words:"true" default:"300"`
}

// DSN renders the driver connection string. Timestamps are parsed into
// time.Time in the local zone so NOW() comparisons stay consistent.
func (c *Config) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Name
	cfg.ParseTime = true
	cfg.Loc = time.Local
	if c.TLS {
		cfg.TLSConfig = "true"
	}
	return cfg.FormatDSN()
}

func (c *Config) New(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.Open("mysql", c.DSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetime) * time.Second)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}
