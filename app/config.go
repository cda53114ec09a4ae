package app

import (
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/sci-ndp/ndp-catalog-adapter/broker"
	"github.com/sci-ndp/ndp-catalog-adapter/catalog"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const defaultConfig = `# NDP Catalog Adapter

################################## LOGGING ####################################

[logging]

#
# Logging verbosity level.
# Supported values: "DEBUG", "INFO", "WARN", "ERROR", "FATAL" or "PANIC".
#
level = "INFO"

################################## SERVER #####################################

[server]

#
# Address of the HTTP API.
#
api_addr = ":8001"

#
# Address of the admin listener (health check, metrics and profiling).
#
admin_addr = ":6060"

################################## CATALOG ####################################

[catalog]

#
# Timeout of every request sent to a catalog backend.
#
timeout = "30s"

user_agent = "ndp-catalog-adapter"

[catalog.local]
url = "http://localhost:5000"
api_key = ""

[catalog.global]
url = "https://nationaldataplatform.org/catalog"
api_key = ""

#
# The pre-publication catalog is only used when enabled. A bare host:port
# is promoted to http://host:port.
#
[catalog.pre_catalog]
enabled = false
url = ""
api_key = ""

################################## DATASET ####################################

[dataset]

#
# Purge datasets whose resources could not all be created.
#
rollback_partial_create = false

################################## KAFKA ######################################

[kafka]

enabled = false
host = ""
port = 9092
prefix = "data_stream_"
max_streams = 10
dial_timeout = "5s"

#
# Check that the topic exists before registering a Kafka dataset.
#
verify_topics = false

################################## S3 #########################################

[s3]

profile = ""
endpoint = ""

#
# Check that the object exists before registering an S3 dataset.
#
verify_objects = false
`

type Config struct {
	v *viper.Viper

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Server struct {
		APIAddr   string `mapstructure:"api_addr"`
		AdminAddr string `mapstructure:"admin_addr"`
	} `mapstructure:"server"`

	Catalog struct {
		Timeout    time.Duration  `mapstructure:"timeout"`
		UserAgent  string         `mapstructure:"user_agent"`
		Local      InstanceConfig `mapstructure:"local"`
		Global     InstanceConfig `mapstructure:"global"`
		PreCatalog InstanceConfig `mapstructure:"pre_catalog"`
	} `mapstructure:"catalog"`

	Dataset struct {
		RollbackPartialCreate bool `mapstructure:"rollback_partial_create"`
	} `mapstructure:"dataset"`

	Kafka struct {
		Enabled      bool          `mapstructure:"enabled"`
		Host         string        `mapstructure:"host"`
		Port         int           `mapstructure:"port"`
		Prefix       string        `mapstructure:"prefix"`
		MaxStreams   int           `mapstructure:"max_streams"`
		DialTimeout  time.Duration `mapstructure:"dial_timeout"`
		VerifyTopics bool          `mapstructure:"verify_topics"`
	} `mapstructure:"kafka"`

	S3 struct {
		Profile       string `mapstructure:"profile"`
		Endpoint      string `mapstructure:"endpoint"`
		VerifyObjects bool   `mapstructure:"verify_objects"`
	} `mapstructure:"s3"`
}

type InstanceConfig struct {
	URL     string `mapstructure:"url"`
	APIKey  string `mapstructure:"api_key"`
	Enabled bool   `mapstructure:"enabled"`
}

func (c Config) Validate() error {
	if c.Catalog.Timeout <= 0 {
		return errors.New("catalog.timeout must be positive")
	}
	if c.Kafka.Enabled && c.Kafka.Host == "" {
		return errors.New("kafka.host is required when kafka is enabled")
	}
	return nil
}

// Backends returns the backend table. Only the pre-publication catalog can
// be disabled.
func (c Config) Backends() catalog.Config {
	return catalog.Config{
		catalog.Local:      {URL: c.Catalog.Local.URL, APIKey: c.Catalog.Local.APIKey, Enabled: true},
		catalog.Global:     {URL: c.Catalog.Global.URL, APIKey: c.Catalog.Global.APIKey, Enabled: true},
		catalog.PreCatalog: {URL: c.Catalog.PreCatalog.URL, APIKey: c.Catalog.PreCatalog.APIKey, Enabled: c.Catalog.PreCatalog.Enabled},
	}
}

func (c Config) Broker() broker.Config {
	return broker.Config{
		Enabled:     c.Kafka.Enabled,
		Host:        c.Kafka.Host,
		Port:        c.Kafka.Port,
		Prefix:      c.Kafka.Prefix,
		MaxStreams:  c.Kafka.MaxStreams,
		DialTimeout: c.Kafka.DialTimeout,
	}
}

func (c Config) String() string {
	tmpfile, err := ioutil.TempFile("", "config.*.toml")
	if err != nil {
		return err.Error()
	}
	defer os.Remove(tmpfile.Name())
	err = c.v.WriteConfigAs(tmpfile.Name())
	if err != nil {
		return err.Error()
	}
	blob, err := ioutil.ReadAll(tmpfile)
	if err != nil {
		return err.Error()
	}
	return string(blob)
}

func loadConfig(c *Config) error {
	// Variables already present in the environment take precedence.
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return errors.Wrap(err, "cannot load environment file")
	}

	v := viper.New()

	v.SetEnvPrefix("NDP_CATALOG_ADAPTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("ndp-catalog-adapter")
	v.SetConfigType("toml")
	v.AddConfigPath("$HOME/.config/")
	v.AddConfigPath("/etc/ndp/")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// Read our default configuration.
	if err := v.ReadConfig(strings.NewReader(defaultConfig)); err != nil {
		panic(err) // Not in the user path.
	}

	// Include configuration file provided by the user.
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return errors.Wrap(err, "configuration unmarshaling failed")
	}

	if err := c.Validate(); err != nil {
		return errors.Wrap(err, "config did not pass validation")
	}

	c.v = v

	return nil
}
