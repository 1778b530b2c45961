package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/imagvfx/coalition"
)

// Config is configuration of the server.
//
// It is read from a config file, environment variables prefixed with COALITION_,
// and command line flags. Latter ones take precedence.
type Config struct {
	HTTP struct {
		Addr string
	}
	GRPC struct {
		Addr string
	}
	DB struct {
		// Driver is either sqlite3 or postgres.
		// Empty driver keeps the farm only in memory.
		Driver string
		DSN    string
	}
	Workers struct {
		// Liveness is how long a worker could be silent before it is considered offline.
		Liveness time.Duration
		// Sweep is the interval to check liveness of the workers.
		Sweep time.Duration
		// Groups is path of a toml file defining worker groups.
		Groups string
	}
	Log struct {
		Level string
	}
}

var configDefaults = map[string]interface{}{
	"http.addr":        ":19211",
	"grpc.addr":        ":19212",
	"db.driver":        "",
	"db.dsn":           "",
	"workers.liveness": coalition.DefaultLiveness,
	"workers.sweep":    10 * time.Second,
	"workers.groups":   "",
	"log.level":        "info",
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"http":          "http.addr",
	"grpc":          "grpc.addr",
	"db-driver":     "db.driver",
	"db-dsn":        "db.dsn",
	"liveness":      "workers.liveness",
	"sweep":         "workers.sweep",
	"worker-groups": "workers.groups",
	"log-level":     "log.level",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("coalitionserver", pflag.ContinueOnError)
	fs.String("config", "", "path of a config file")
	fs.String("http", configDefaults["http.addr"].(string), "address to serve http")
	fs.String("grpc", configDefaults["grpc.addr"].(string), "address to serve grpc for workers")
	fs.String("db-driver", "", "database driver, sqlite3 or postgres. keeps the farm in memory when empty")
	fs.String("db-dsn", "", "database data source name")
	fs.Duration("liveness", configDefaults["workers.liveness"].(time.Duration), "how long a worker could be silent before it is considered offline")
	fs.Duration("sweep", configDefaults["workers.sweep"].(time.Duration), "interval to check liveness of workers")
	fs.String("worker-groups", "", "path of a toml file defining worker groups")
	fs.String("log-level", configDefaults["log.level"].(string), "log level")
	return fs
}

// loadConfig loads the config from the sources and validates it.
func loadConfig(args []string) (*Config, error) {
	fs := newFlagSet()
	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	for k, d := range configDefaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix("COALITION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for name, key := range flagKeys {
		err := v.BindPFlag(key, fs.Lookup(name))
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		err := v.ReadInConfig()
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
	}
	cfg := &Config{}
	err = v.Unmarshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config, and reports all the problems it found.
func (c *Config) Validate() error {
	var result error
	if c.HTTP.Addr == "" {
		result = multierror.Append(result, fmt.Errorf("http.addr: empty"))
	}
	if c.GRPC.Addr == "" {
		result = multierror.Append(result, fmt.Errorf("grpc.addr: empty"))
	}
	switch c.DB.Driver {
	case "":
	case "sqlite3", "postgres":
		if c.DB.DSN == "" {
			result = multierror.Append(result, fmt.Errorf("db.dsn: empty for driver %v", c.DB.Driver))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("db.driver: unsupported: %v", c.DB.Driver))
	}
	if c.Workers.Liveness <= 0 {
		result = multierror.Append(result, fmt.Errorf("workers.liveness: should be positive, got %v", c.Workers.Liveness))
	}
	if c.Workers.Sweep <= 0 {
		result = multierror.Append(result, fmt.Errorf("workers.sweep: should be positive, got %v", c.Workers.Sweep))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, fmt.Errorf("log.level: %v", err))
	}
	return result
}
