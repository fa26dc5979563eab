package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/illmade-knight/go-tdbridge/pkg/executor"
	"github.com/illmade-knight/go-tdbridge/pkg/payload"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestYAMLFile is a helper function to create a temporary YAML file for testing.
func createTestYAMLFile(t *testing.T, content string) string {
	t.Helper()
	filePath := filepath.Join(t.TempDir(), "tdbridge.yaml")
	require.NoError(t, os.WriteFile(filePath, []byte(content), 0600), "Failed to write temporary YAML file")
	return filePath
}

const pooledYAML = `
mode: jdbc
topic: sensors/power
payload_coder: json
sql:
  insert_template: "insert into power values(${payload.ts}, ${payload.v})"
  create_database: "create database if not exists iot"
  create_table: "create table if not exists power (ts timestamp, v double)"
dispatch:
  timeout_ms: 2500
pooled:
  driver: taosRestful
  dsn: "http(localhost:6041)/iot"
  username: root
  password: taosdata
  init: 1
  min_idle: 3
  max_active: 3
  max_wait_ms: 4000
mqtt:
  broker_url: tcp://localhost:1883
journal:
  enabled: true
  addr: localhost:6379
  max_len: 50
metrics:
  listen_addr: ":9100"
`

func TestLoad_Pooled(t *testing.T) {
	cfg, err := Load(createTestYAMLFile(t, pooledYAML))
	require.NoError(t, err)
	cfg.ApplyDefaults(zerolog.Nop())
	require.NoError(t, cfg.Validate())

	mode, err := cfg.BackendMode()
	require.NoError(t, err)
	assert.Equal(t, executor.ModePooled, mode)

	coder, err := cfg.Coder()
	require.NoError(t, err)
	assert.Equal(t, payload.CoderJSON, coder)

	assert.Equal(t, 2500*time.Millisecond, cfg.DispatchTimeout())
	assert.Equal(t, "create database if not exists iot", cfg.SQL.CreateDatabase)

	pooled := cfg.PooledExecutorConfig()
	assert.Equal(t, "taosRestful", pooled.DriverName)
	assert.Equal(t, "root", pooled.Username)
	assert.Equal(t, 3, pooled.PoolMaxActive)
	assert.Equal(t, 4*time.Second, pooled.MaxWait)

	mqttCfg := cfg.MQTTClientConfig()
	assert.Equal(t, "sensors/power", mqttCfg.Topic, "subscription defaults to the bridge topic")
	assert.Equal(t, byte(1), mqttCfg.QoS)

	j := cfg.JournalRedisConfig()
	require.NotNil(t, j)
	assert.Equal(t, int64(50), j.MaxLen)

	assert.Equal(t, 20, cfg.WorkerPoolConfig().Workers)
	assert.Equal(t, ":9100", cfg.Metrics.ListenAddr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvMode, "http")
	t.Setenv(EnvTopic, "override/topic")
	t.Setenv(EnvPayloadCoder, "base64")
	t.Setenv(EnvHTTPToken, "root:secret")

	cfg, err := Load(createTestYAMLFile(t, `
mode: jdbc
topic: sensors/power
sql:
  insert_template: "insert into raw values('${payload}')"
http:
  url: http://localhost:6041/rest/sql
`))
	require.NoError(t, err)
	cfg.ApplyDefaults(zerolog.Nop())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "override/topic", cfg.Topic)
	coder, err := cfg.Coder()
	require.NoError(t, err)
	assert.Equal(t, payload.CoderBinary, coder)

	httpCfg := cfg.HTTPExecutorConfig()
	assert.Equal(t, "root:secret", httpCfg.Token)
	assert.Nil(t, cfg.JournalRedisConfig())
	assert.Equal(t, 10*time.Second, cfg.DispatchTimeout())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	_, err = Load(createTestYAMLFile(t, "mode: jdbc\n  badly_indented: true"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal YAML")
}

func intPtr(v int) *int { return &v }

func bytePtr(v byte) *byte { return &v }

func TestApplyDefaults_KeepsExplicitZeroes(t *testing.T) {
	cfg, err := Load(createTestYAMLFile(t, `
mode: pooled
topic: sensors/power
sql:
  insert_template: "insert into power values(${payload.ts})"
pooled:
  dsn: "http(localhost:6041)/iot"
  min_idle: 0
mqtt:
  qos: 0
`))
	require.NoError(t, err)
	cfg.ApplyDefaults(zerolog.Nop())

	assert.Equal(t, byte(0), cfg.MQTTClientConfig().QoS, "an explicit qos 0 must survive defaults")
	require.NotNil(t, cfg.Pooled.MinIdle)
	assert.Equal(t, 0, *cfg.Pooled.MinIdle)
	require.NotNil(t, cfg.Pooled.Init)
	assert.Equal(t, 1, *cfg.Pooled.Init, "absent sizes take the executor defaults")
	require.NotNil(t, cfg.Pooled.MaxActive)
	assert.Equal(t, 3, *cfg.Pooled.MaxActive)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pooled.min_idle")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Mode:         "pooled",
			Topic:        "t",
			PayloadCoder: "json",
			SQL:          SQLConfig{InsertTemplate: "insert ${payload.v}"},
			Pooled:       PooledConfig{DSN: "http(localhost:6041)/iot"},
		}
	}

	testCases := []struct {
		name          string
		mutate        func(c *Config)
		errorContains []string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:          "missing mandatory fields are all reported",
			mutate:        func(c *Config) { c.Mode = ""; c.Topic = ""; c.SQL.InsertTemplate = " " },
			errorContains: []string{"mode", "topic", "sql.insert_template"},
		},
		{
			name:          "unknown mode",
			mutate:        func(c *Config) { c.Mode = "kafka" },
			errorContains: []string{"unknown backend mode"},
		},
		{
			name:          "unknown coder",
			mutate:        func(c *Config) { c.PayloadCoder = "xml" },
			errorContains: []string{"unknown payload coder"},
		},
		{
			name:          "pool sizes out of range",
			mutate:        func(c *Config) { c.Pooled.Init = intPtr(-1); c.Pooled.MaxActive = intPtr(101) },
			errorContains: []string{"pooled.init", "pooled.max_active"},
		},
		{
			name:          "explicit zero min idle is rejected",
			mutate:        func(c *Config) { c.Pooled.MinIdle = intPtr(0) },
			errorContains: []string{"pooled.min_idle must be between 1 and 100"},
		},
		{
			name:          "init above max active",
			mutate:        func(c *Config) { c.Pooled.Init = intPtr(5); c.Pooled.MaxActive = intPtr(2) },
			errorContains: []string{"exceeds"},
		},
		{
			name:   "qos zero is valid",
			mutate: func(c *Config) { c.MQTT.QoS = bytePtr(0) },
		},
		{
			name:          "qos above two",
			mutate:        func(c *Config) { c.MQTT.QoS = bytePtr(3) },
			errorContains: []string{"mqtt.qos"},
		},
		{
			name:          "http needs url and credentials",
			mutate:        func(c *Config) { c.Mode = "http" },
			errorContains: []string{"http.url", "http.token"},
		},
		{
			name:          "journal needs address",
			mutate:        func(c *Config) { c.Journal.Enabled = true },
			errorContains: []string{"journal.addr"},
		},
		{
			name:          "negative timeout",
			mutate:        func(c *Config) { c.Dispatch.TimeoutMS = -1 },
			errorContains: []string{"timeout_ms"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if len(tc.errorContains) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, s := range tc.errorContains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}
