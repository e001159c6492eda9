package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func validBase() Config {
	c := Default()
	c.HeloDomain = "verifier.example.com"
	c.MailFrom = "probe@verifier.example.com"
	return c
}

func TestDefault_RequiresSMTPIdentity(t *testing.T) {
	c := Default()
	assert.Error(t, c.Validate())

	c.SkipSMTP = true
	assert.NoError(t, c.Validate())

	c = validBase()
	assert.NoError(t, c.Validate())
}

func TestLoadEnv(t *testing.T) {
	c := validBase()
	err := c.loadEnv(mapLookup(map[string]string{
		"DELIVERKIT_SOURCE":           "sqs",
		"DELIVERKIT_QUEUE_URL":        "https://sqs.eu-west-1.amazonaws.com/123/candidates",
		"DELIVERKIT_STORE":            "redis",
		"DELIVERKIT_REDIS_ADDR":       "localhost:6379",
		"DELIVERKIT_BATCH_SIZE":       "25",
		"DELIVERKIT_WORKERS":          "8",
		"DELIVERKIT_ADDRESS_TIMEOUT":  "20s",
		"DELIVERKIT_OVERALL_TIMEOUT":  "14m",
		"DELIVERKIT_ROLE_KEYWORDS":    "admin, careers ,,jobs",
		"DELIVERKIT_RATE_LIMIT":       "2.5",
		"DELIVERKIT_SKIP_CATCH_ALL":   "true",
		"DELIVERKIT_SQS_WAIT_SECONDS": "5",
		"DELIVERKIT_CACHE_TTL":        "2m",
		"LOG_LEVEL":                   "DEBUG",
	}))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, SourceSQS, c.Source)
	assert.Equal(t, StoreRedis, c.Store)
	assert.Equal(t, 25, c.BatchSize)
	assert.Equal(t, 8, c.Workers)
	assert.Equal(t, 20*time.Second, c.AddressTimeout)
	assert.Equal(t, 14*time.Minute, c.OverallTimeout)
	assert.Equal(t, []string{"admin", "careers", "jobs"}, c.RoleKeywords)
	assert.Equal(t, 2.5, c.RateLimit)
	assert.True(t, c.SkipCatchAll)
	assert.Equal(t, int32(5), c.SQSWait)
	assert.Equal(t, 2*time.Minute, c.CacheTTL)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestLoadEnv_LegacyNames(t *testing.T) {
	c := validBase()
	err := c.loadEnv(mapLookup(map[string]string{
		"INPUT_SOURCE":        "local",
		"OUTPUT_TARGET":       "dynamodb",
		"DDB_TABLE":           "results",
		"SMTP_TIMEOUT":        "7",
		"SMTP_BURST_CAPACITY": "4",
	}))
	require.NoError(t, err)

	assert.Equal(t, SourceFile, c.Source)
	assert.Equal(t, StoreDynamoDB, c.Store)
	assert.Equal(t, "results", c.TableName)
	assert.Equal(t, 7*time.Second, c.CommandTimeout)
	assert.Equal(t, 4, c.RateBurst)
}

func TestLoadEnv_NewNameWins(t *testing.T) {
	c := validBase()
	require.NoError(t, c.loadEnv(mapLookup(map[string]string{
		"BATCH_SIZE":            "3",
		"DELIVERKIT_BATCH_SIZE": "30",
	})))
	assert.Equal(t, 30, c.BatchSize)
}

func TestLoadEnv_ParseErrors(t *testing.T) {
	c := validBase()
	err := c.loadEnv(mapLookup(map[string]string{
		"DELIVERKIT_WORKERS":         "many",
		"DELIVERKIT_ADDRESS_TIMEOUT": "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DELIVERKIT_WORKERS")
	assert.Contains(t, err.Error(), "DELIVERKIT_ADDRESS_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown source", func(c *Config) { c.Source = "kafka" }},
		{"unknown store", func(c *Config) { c.Store = "s3" }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"zero address timeout", func(c *Config) { c.AddressTimeout = 0 }},
		{"sqs without queue", func(c *Config) { c.Source = SourceSQS }},
		{"redis without addr", func(c *Config) { c.Store = StoreRedis }},
		{"postgres without dsn", func(c *Config) { c.Store = StorePostgres }},
		{"bad mail from", func(c *Config) { c.MailFrom = "not-an-address" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"empty role keyword", func(c *Config) { c.RoleKeywords = []string{"admin", ""} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validBase()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deliverkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: memory
batchSize: 50
addressTimeout: 45s
heloDomain: verifier.example.com
mailFrom: probe@verifier.example.com
roleKeywords: [admin, billing]
`), 0o600))

	t.Setenv("DELIVERKIT_CONFIG", path)
	t.Setenv("DELIVERKIT_BATCH_SIZE", "60")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, c.Store)
	assert.Equal(t, 60, c.BatchSize, "env wins over the file")
	assert.Equal(t, 45*time.Second, c.AddressTimeout)
	assert.Equal(t, []string{"admin", "billing"}, c.RoleKeywords)
}

func TestNewLogger(t *testing.T) {
	c := validBase()
	c.LogFormat = "json"
	c.LogLevel = "warn"
	log, err := c.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, "warning", log.GetLevel().String())
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("10")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)

	d, err = ParseDuration("1m30s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseDuration("ten")
	assert.Error(t, err)
}
