package config

import (
	"bytes"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
)

const DefaultEnvFile = "config.env"

// Credentials are the warehouse connection settings, read from the same keys the operators keep in config.env.
type Credentials struct {
	User         string `env:"DB_USER,required"`
	Password     string `env:"DB_PASSWORD"`
	Host         string `env:"DB_HOST" envDefault:"localhost"`
	Port         int    `env:"DB_PORT" envDefault:"5432"`
	Name         string `env:"DB_NAME,required"`
	SslMode      string `env:"DB_SSLMODE" envDefault:"prefer"`
	PoolMaxConns int    `env:"DB_POOL_MAX_CONNS" envDefault:"4"`
}

// LoadCredentials reads the env file (if present) and overlays the process environment on top of it.
// A missing file is only an error when the caller asked for a specific one.
func LoadCredentials(fs afero.Fs, envFile string, environ []string) (*Credentials, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = DefaultEnvFile
	}

	values := map[string]string{}

	buf, err := afero.ReadFile(fs, envFile)
	switch {
	case err == nil:
		parsed, err := godotenv.Parse(bytes.NewReader(buf))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse env file %s", envFile)
		}
		values = parsed
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, errors.Wrapf(err, "failed to read env file %s", envFile)
	}

	for key, value := range env.ToMap(environ) {
		values[key] = value
	}

	creds := &Credentials{}
	if err := env.ParseWithOptions(creds, env.Options{Environment: values}); err != nil {
		return nil, errors.Wrap(err, "invalid database credentials")
	}

	return creds, nil
}

func (c *Credentials) PostgresConfig(statementTimeout time.Duration) postgres.Config {
	return postgres.Config{
		Username:         c.User,
		Password:         c.Password,
		Host:             c.Host,
		Port:             c.Port,
		Database:         c.Name,
		PoolMaxConns:     c.PoolMaxConns,
		SslMode:          c.SslMode,
		StatementTimeout: statementTimeout,
		ApplicationName:  "kalpana",
	}
}
