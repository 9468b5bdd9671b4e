package client

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	Env_URI            = "SQL2MONGO_URI"
	Env_Database       = "SQL2MONGO_DATABASE"
	Env_Enforce_Schema = "SQL2MONGO_ENFORCE_SCHEMA"

	Default_URI             = "mongodb://localhost:27017"
	Default_Database        = "test"
	Default_Cache_Size      = 256
	Default_Connect_Timeout = 10
)

type Config struct {
	URI                   string `toml:"uri"`
	Database              string `toml:"database"`
	EnforceSchema         bool   `toml:"enforce_schema"`
	ReadConcern           string `toml:"read_concern"`
	WriteConcern          string `toml:"write_concern"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	StatementCacheSize    int    `toml:"statement_cache_size"`
	LogLevel              string `toml:"log_level"`
}

func DefaultConfig() *Config {
	return &Config{
		URI:                   Default_URI,
		Database:              Default_Database,
		ConnectTimeoutSeconds: Default_Connect_Timeout,
		StatementCacheSize:    Default_Cache_Size,
		LogLevel:              "info",
	}
}

// 加载配置：默认值 < 配置文件 < 环境变量
func LoadConfig(path string) (cfg *Config, err error) {
	cfg = DefaultConfig()
	if path != "" {
		if _, err = toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "load config [%v]", path)
		}
	}
	if err = cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return
}

func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(Env_URI); ok && v != "" {
		c.URI = v
	}
	if v, ok := lookup(Env_Database); ok && v != "" {
		c.Database = v
	}
	if v, ok := lookup(Env_Enforce_Schema); ok && v != "" {
		enforce, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %v [%v]", Env_Enforce_Schema, v)
		}
		c.EnforceSchema = enforce
	}
	return nil
}

func (c *Config) Validate() error {
	if c.URI == "" {
		return errors.New("missing mongodb uri")
	}
	if c.Database == "" {
		return errors.New("missing database name")
	}
	if _, err := c.readConcern(); err != nil {
		return err
	}
	if _, err := c.writeConcern(); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "invalid log_level [%v]", c.LogLevel)
	}
	return nil
}

func (c *Config) readConcern() (*readconcern.ReadConcern, error) {
	switch strings.ToLower(c.ReadConcern) {
	case "":
		return nil, nil
	case "local":
		return readconcern.Local(), nil
	case "available":
		return readconcern.Available(), nil
	case "majority":
		return readconcern.Majority(), nil
	case "linearizable":
		return readconcern.Linearizable(), nil
	case "snapshot":
		return readconcern.Snapshot(), nil
	}
	return nil, errors.Errorf("invalid read_concern [%v]", c.ReadConcern)
}

func (c *Config) writeConcern() (*writeconcern.WriteConcern, error) {
	switch w := strings.ToLower(c.WriteConcern); w {
	case "":
		return nil, nil
	case "majority":
		return writeconcern.Majority(), nil
	default:
		n, err := strconv.Atoi(w)
		if err != nil || n < 0 {
			return nil, errors.Errorf("invalid write_concern [%v]", c.WriteConcern)
		}
		return &writeconcern.WriteConcern{W: n}, nil
	}
}
