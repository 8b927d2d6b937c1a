package postgres

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

type Config struct {
	Username         string
	Password         string
	Host             string
	Port             int
	Database         string
	PoolMaxConns     int
	SslMode          string
	StatementTimeout time.Duration
	ApplicationName  string
}

// ToDBConnectionURI returns a connection URI to be used with the pgx package.
func (c Config) ToDBConnectionURI() string {
	params := url.Values{}
	params.Set("sslmode", c.SslMode)
	params.Set("pool_max_conns", strconv.Itoa(c.PoolMaxConns))
	if c.ApplicationName != "" {
		params.Set("application_name", c.ApplicationName)
	}
	if c.StatementTimeout > 0 {
		params.Set("statement_timeout", strconv.FormatInt(c.StatementTimeout.Milliseconds(), 10))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: params.Encode(),
	}

	return u.String()
}

func (c Config) GetDatabase() string {
	return c.Database
}
