package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/illmade-knight/go-tdbridge/pkg/dispatch"
	"github.com/illmade-knight/go-tdbridge/pkg/executor"
	"github.com/illmade-knight/go-tdbridge/pkg/journal"
	"github.com/illmade-knight/go-tdbridge/pkg/mqttingest"
	"github.com/illmade-knight/go-tdbridge/pkg/payload"
	"github.com/illmade-knight/go-tdbridge/pkg/workerpool"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// maxPoolSize bounds every pool size setting.
const maxPoolSize = 100

// Environment variables that override file values when set.
const (
	EnvMode           = "BRIDGE_MODE"
	EnvTopic          = "BRIDGE_TOPIC"
	EnvPayloadCoder   = "BRIDGE_PAYLOAD_CODER"
	EnvPooledDSN      = "BRIDGE_POOLED_DSN"
	EnvPooledPassword = "BRIDGE_POOLED_PASSWORD"
	EnvHTTPToken      = "BRIDGE_HTTP_TOKEN"
	EnvMQTTBrokerURL  = "BRIDGE_MQTT_BROKER_URL"
	EnvJournalAddr    = "BRIDGE_JOURNAL_ADDR"
)

// Config is the full bridge configuration as read from YAML.
type Config struct {
	Mode         string           `yaml:"mode"`
	Topic        string           `yaml:"topic"`
	PayloadCoder string           `yaml:"payload_coder"`
	SQL          SQLConfig        `yaml:"sql"`
	Dispatch     DispatchConfig   `yaml:"dispatch"`
	Pooled       PooledConfig     `yaml:"pooled"`
	HTTP         HTTPConfig       `yaml:"http"`
	MQTT         MQTTConfig       `yaml:"mqtt"`
	WorkerPool   WorkerPoolConfig `yaml:"worker_pool"`
	Journal      JournalConfig    `yaml:"journal"`
	Metrics      MetricsConfig    `yaml:"metrics"`
}

type SQLConfig struct {
	InsertTemplate    string `yaml:"insert_template"`
	CreateDatabase    string `yaml:"create_database"`
	CreateTable       string `yaml:"create_table"`
	LowercaseTemplate bool   `yaml:"lowercase_template"`
}

type DispatchConfig struct {
	TimeoutMS int `yaml:"timeout_ms"`
}

type PooledConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	Username               string `yaml:"username"`
	Password               string `yaml:"password"`
	Init                   *int   `yaml:"init"`
	MinIdle                *int   `yaml:"min_idle"`
	MaxActive              *int   `yaml:"max_active"`
	IdleEvictionIntervalMS int    `yaml:"idle_eviction_interval_ms"`
	MinIdleTimeMS          int    `yaml:"min_idle_time_ms"`
	MaxIdleTimeMS          int    `yaml:"max_idle_time_ms"`
	TestQuery              string `yaml:"test_query"`
	MaxWaitMS              int    `yaml:"max_wait_ms"`
}

type HTTPConfig struct {
	URL                 string `yaml:"url"`
	Token               string `yaml:"token"`
	AuthorizationHeader string `yaml:"authorization_header"`
	MaxConnsTotal       int    `yaml:"max_conns_total"`
	MaxConnsPerRoute    int    `yaml:"max_conns_per_route"`
	RequestTimeoutMS    int    `yaml:"request_timeout_ms"`
}

type MQTTConfig struct {
	BrokerURL          string `yaml:"broker_url"`
	Topic              string `yaml:"topic"` // subscription filter, defaults to the bridge topic
	QoS                *byte  `yaml:"qos"`   // nil means 1; 0 is a valid setting
	ClientIDPrefix     string `yaml:"client_id_prefix"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	KeepAliveMS        int    `yaml:"keep_alive_ms"`
	ConnectTimeoutMS   int    `yaml:"connect_timeout_ms"`
	ReconnectWaitMaxMS int    `yaml:"reconnect_wait_max_ms"`
	CACertFile         string `yaml:"ca_cert_file"`
	ClientCertFile     string `yaml:"client_cert_file"`
	ClientKeyFile      string `yaml:"client_key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

type WorkerPoolConfig struct {
	Workers       int `yaml:"workers"`
	QueueCapacity int `yaml:"queue_capacity"`
}

type JournalConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	MaxLen   int64  `yaml:"max_len"`
	// TimeoutMS bounds each write; 0 keeps the dispatch default.
	TimeoutMS int `yaml:"timeout_ms"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads a YAML configuration file and applies environment overrides.
// It does not validate; call Validate once defaults are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML from '%s': %w", path, err)
	}
	cfg.ApplyEnv()
	return &cfg, nil
}

// ApplyEnv overrides file values with any non-empty environment variables.
func (c *Config) ApplyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{EnvMode, &c.Mode},
		{EnvTopic, &c.Topic},
		{EnvPayloadCoder, &c.PayloadCoder},
		{EnvPooledDSN, &c.Pooled.DSN},
		{EnvPooledPassword, &c.Pooled.Password},
		{EnvHTTPToken, &c.HTTP.Token},
		{EnvMQTTBrokerURL, &c.MQTT.BrokerURL},
		{EnvJournalAddr, &c.Journal.Addr},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// ApplyDefaults fills settings left unset. Pool sizes and QoS are only
// defaulted when absent, so an explicit 0 reaches Validate.
func (c *Config) ApplyDefaults(logger zerolog.Logger) {
	if c.PayloadCoder == "" {
		logger.Warn().Str("default", string(payload.CoderJSON)).Msg("payload_coder not set, applying default value.")
		c.PayloadCoder = string(payload.CoderJSON)
	}
	if c.Dispatch.TimeoutMS == 0 {
		logger.Warn().Dur("default", dispatch.DefaultTimeout).Msg("dispatch.timeout_ms not set, applying default value.")
		c.Dispatch.TimeoutMS = int(dispatch.DefaultTimeout / time.Millisecond)
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = c.Topic
	}
	if c.MQTT.QoS == nil {
		qos := byte(1)
		c.MQTT.QoS = &qos
	}
	d := executor.DefaultPooledConfig()
	for _, size := range []struct {
		name  string
		dst   **int
		value int
	}{
		{"pooled.init", &c.Pooled.Init, d.PoolInit},
		{"pooled.min_idle", &c.Pooled.MinIdle, d.PoolMinIdle},
		{"pooled.max_active", &c.Pooled.MaxActive, d.PoolMaxActive},
	} {
		if *size.dst == nil {
			logger.Debug().Int("default", size.value).Msg(size.name + " not set, applying default value.")
			v := size.value
			*size.dst = &v
		}
	}
	if c.MQTT.ClientIDPrefix == "" {
		c.MQTT.ClientIDPrefix = "tdbridge-"
	}
	if c.WorkerPool == (WorkerPoolConfig{}) {
		d := workerpool.DefaultConfig()
		logger.Warn().Int("workers", d.Workers).Int("queue_capacity", d.QueueCapacity).Msg("worker_pool not set, applying default values.")
		c.WorkerPool = WorkerPoolConfig{Workers: d.Workers, QueueCapacity: d.QueueCapacity}
	}
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	mandatory := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("mandatory property %s is not set", name))
		}
	}
	inRange := func(name string, value *int) {
		if value != nil && (*value < 1 || *value > maxPoolSize) {
			errs = append(errs, fmt.Errorf("%s must be between 1 and %d, got %d", name, maxPoolSize, *value))
		}
	}

	mandatory("mode", c.Mode)
	mandatory("topic", c.Topic)
	mandatory("sql.insert_template", c.SQL.InsertTemplate)

	if _, err := payload.ParseCoder(c.PayloadCoder); err != nil {
		errs = append(errs, err)
	}
	if c.MQTT.QoS != nil && *c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", *c.MQTT.QoS))
	}
	if c.Dispatch.TimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("dispatch.timeout_ms must not be negative, got %d", c.Dispatch.TimeoutMS))
	}

	mode, err := executor.ParseMode(c.Mode)
	if c.Mode != "" && err != nil {
		errs = append(errs, err)
	}
	switch mode {
	case executor.ModePooled:
		mandatory("pooled.dsn", c.Pooled.DSN)
		inRange("pooled.init", c.Pooled.Init)
		inRange("pooled.min_idle", c.Pooled.MinIdle)
		inRange("pooled.max_active", c.Pooled.MaxActive)
		if c.Pooled.Init != nil && c.Pooled.MaxActive != nil && *c.Pooled.Init > *c.Pooled.MaxActive {
			errs = append(errs, fmt.Errorf("pooled.init (%d) exceeds pooled.max_active (%d)", *c.Pooled.Init, *c.Pooled.MaxActive))
		}
	case executor.ModeHTTP:
		mandatory("http.url", c.HTTP.URL)
		if c.HTTP.Token == "" && c.HTTP.AuthorizationHeader == "" {
			errs = append(errs, errors.New("mandatory property http.token is not set"))
		}
	}

	if c.Journal.Enabled {
		mandatory("journal.addr", c.Journal.Addr)
	}
	return errors.Join(errs...)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// deref returns zero for an unset size, which the executor replaces with its default.
func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func (c *Config) mqttQoS() byte {
	if c.MQTT.QoS == nil {
		return 1
	}
	return *c.MQTT.QoS
}

// BackendMode returns the parsed backend mode.
func (c *Config) BackendMode() (executor.Mode, error) {
	return executor.ParseMode(c.Mode)
}

// Coder returns the parsed payload coder.
func (c *Config) Coder() (payload.Coder, error) {
	return payload.ParseCoder(c.PayloadCoder)
}

func (c *Config) DispatchTimeout() time.Duration {
	return ms(c.Dispatch.TimeoutMS)
}

func (c *Config) PooledExecutorConfig() executor.PooledConfig {
	return executor.PooledConfig{
		DriverName:           c.Pooled.Driver,
		DSN:                  c.Pooled.DSN,
		Username:             c.Pooled.Username,
		Password:             c.Pooled.Password,
		PoolInit:             deref(c.Pooled.Init),
		PoolMinIdle:          deref(c.Pooled.MinIdle),
		PoolMaxActive:        deref(c.Pooled.MaxActive),
		IdleEvictionInterval: ms(c.Pooled.IdleEvictionIntervalMS),
		MinIdleTime:          ms(c.Pooled.MinIdleTimeMS),
		MaxIdleTime:          ms(c.Pooled.MaxIdleTimeMS),
		TestQuery:            c.Pooled.TestQuery,
		MaxWait:              ms(c.Pooled.MaxWaitMS),
	}
}

func (c *Config) HTTPExecutorConfig() executor.HTTPConfig {
	return executor.HTTPConfig{
		URL:                 c.HTTP.URL,
		Token:               c.HTTP.Token,
		AuthorizationHeader: c.HTTP.AuthorizationHeader,
		MaxConnsTotal:       c.HTTP.MaxConnsTotal,
		MaxConnsPerRoute:    c.HTTP.MaxConnsPerRoute,
		RequestTimeout:      ms(c.HTTP.RequestTimeoutMS),
	}
}

func (c *Config) MQTTClientConfig() mqttingest.MQTTClientConfig {
	return mqttingest.MQTTClientConfig{
		BrokerURL:          c.MQTT.BrokerURL,
		Topic:              c.MQTT.Topic,
		QoS:                c.mqttQoS(),
		ClientIDPrefix:     c.MQTT.ClientIDPrefix,
		Username:           c.MQTT.Username,
		Password:           c.MQTT.Password,
		KeepAlive:          ms(c.MQTT.KeepAliveMS),
		ConnectTimeout:     ms(c.MQTT.ConnectTimeoutMS),
		ReconnectWaitMax:   ms(c.MQTT.ReconnectWaitMaxMS),
		CACertFile:         c.MQTT.CACertFile,
		ClientCertFile:     c.MQTT.ClientCertFile,
		ClientKeyFile:      c.MQTT.ClientKeyFile,
		InsecureSkipVerify: c.MQTT.InsecureSkipVerify,
	}
}

func (c *Config) WorkerPoolConfig() workerpool.Config {
	return workerpool.Config{Workers: c.WorkerPool.Workers, QueueCapacity: c.WorkerPool.QueueCapacity}
}

// JournalTimeout returns zero when unset.
func (c *Config) JournalTimeout() time.Duration {
	return ms(c.Journal.TimeoutMS)
}

// JournalRedisConfig returns nil when the journal is disabled.
func (c *Config) JournalRedisConfig() *journal.RedisConfig {
	if !c.Journal.Enabled {
		return nil
	}
	return &journal.RedisConfig{
		Addr:     c.Journal.Addr,
		Password: c.Journal.Password,
		DB:       c.Journal.DB,
		Key:      c.Journal.Key,
		MaxLen:   c.Journal.MaxLen,
	}
}
