// Package config loads the deliverkit runtime configuration.
//
// Sources, later ones winning: built-in defaults, an optional .env file,
// an optional YAML file named by DELIVERKIT_CONFIG, then DELIVERKIT_*
// environment variables. Command-line flags are applied on top by the
// binaries before Validate is called again.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceFile   = "file"
	SourceSQS    = "sqs"
	SourceLambda = "lambda"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreDynamoDB = "dynamodb"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config is the full runtime configuration.
type Config struct {
	Source    string `yaml:"source" validate:"oneof=file sqs lambda"`
	Store     string `yaml:"store" validate:"oneof=memory file dynamodb redis postgres"`
	BatchSize int    `yaml:"batchSize" validate:"min=1,max=10000"`
	Workers   int    `yaml:"workers" validate:"min=1,max=256"`

	AddressTimeout time.Duration `yaml:"addressTimeout" validate:"gt=0"`
	OverallTimeout time.Duration `yaml:"overallTimeout" validate:"gte=0"`

	DisposableSource string   `yaml:"disposableSource"`
	RoleKeywords     []string `yaml:"roleKeywords" validate:"dive,required"`
	TypoThreshold    int      `yaml:"typoThreshold" validate:"gte=0,lte=5"`

	DNSTimeout time.Duration `yaml:"dnsTimeout" validate:"gt=0"`

	SkipSMTP        bool          `yaml:"skipSMTP"`
	SkipCatchAll    bool          `yaml:"skipCatchAll"`
	HeloDomain      string        `yaml:"heloDomain" validate:"omitempty,fqdn"`
	MailFrom        string        `yaml:"mailFrom" validate:"omitempty,email"`
	SMTPPort        string        `yaml:"smtpPort" validate:"numeric"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout" validate:"gt=0"`
	CommandTimeout  time.Duration `yaml:"commandTimeout" validate:"gt=0"`
	MaxMXHosts      int           `yaml:"maxMXHosts" validate:"min=1,max=10"`
	GreylistBackoff time.Duration `yaml:"greylistBackoff" validate:"gt=0"`
	RateLimit       float64       `yaml:"rateLimit" validate:"gt=0"`
	RateBurst       int           `yaml:"rateBurst" validate:"min=1"`
	ProxyAddress    string        `yaml:"proxyAddress"`
	ProxyUsername   string        `yaml:"proxyUsername"`
	ProxyPassword   string        `yaml:"-"`

	InputFile  string `yaml:"inputFile" validate:"required_if=Source file"`
	OutputFile string `yaml:"outputFile" validate:"required_if=Store file"`

	QueueURL    string `yaml:"queueURL" validate:"required_if=Source sqs"`
	SQSWait     int32  `yaml:"sqsWaitSeconds" validate:"gte=0,lte=20"`
	TableName   string `yaml:"tableName" validate:"required_if=Store dynamodb"`
	RedisAddr   string `yaml:"redisAddr" validate:"required_if=Store redis"`
	RedisDB     int    `yaml:"redisDB" validate:"gte=0"`
	RedisPass   string `yaml:"-"`
	PostgresDSN string `yaml:"-" validate:"required_if=Store postgres"`

	LogLevel  string `yaml:"logLevel" validate:"oneof=trace debug info warn warning error"`
	LogFormat string `yaml:"logFormat" validate:"oneof=text json"`
	APIAddr   string `yaml:"apiAddr"`
	// CacheTTL is how long serve keeps what it learned about a domain.
	CacheTTL    time.Duration `yaml:"cacheTTL" validate:"gte=0"`
	MetricsAddr string        `yaml:"metricsAddr"`
	SentryDSN   string        `yaml:"-"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Source:          SourceFile,
		Store:           StoreFile,
		BatchSize:       10,
		Workers:         5,
		AddressTimeout:  30 * time.Second,
		OverallTimeout:  0,
		TypoThreshold:   2,
		DNSTimeout:      5 * time.Second,
		SMTPPort:        "25",
		ConnectTimeout:  5 * time.Second,
		CommandTimeout:  10 * time.Second,
		MaxMXHosts:      3,
		GreylistBackoff: 5 * time.Second,
		RateLimit:       10,
		RateBurst:       20,
		InputFile:       "emails.txt",
		OutputFile:      "results.json",
		SQSWait:         10,
		TableName:       "email_verification_results",
		LogLevel:        "info",
		LogFormat:       "text",
		APIAddr:         ":8080",
		CacheTTL:        15 * time.Minute,
	}
}

// Load builds the configuration from the .env file, the YAML file and the
// environment, then validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("DELIVERKIT_CONFIG"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadYAML(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// legacyEnv maps the variable names of earlier deployments to their
// DELIVERKIT_* replacement.
var legacyEnv = map[string]string{
	"INPUT_SOURCE":        "DELIVERKIT_SOURCE",
	"OUTPUT_TARGET":       "DELIVERKIT_STORE",
	"BATCH_SIZE":          "DELIVERKIT_BATCH_SIZE",
	"LOCAL_INPUT_FILE":    "DELIVERKIT_INPUT_FILE",
	"LOCAL_OUTPUT_FILE":   "DELIVERKIT_OUTPUT_FILE",
	"SENDER_EMAIL":        "DELIVERKIT_MAIL_FROM",
	"SMTP_RATE_LIMIT":     "DELIVERKIT_RATE_LIMIT",
	"SMTP_BURST_CAPACITY": "DELIVERKIT_RATE_BURST",
	"DDB_TABLE":           "DELIVERKIT_TABLE_NAME",
	"SQS_QUEUE_URL":       "DELIVERKIT_QUEUE_URL",
	"SMTP_TIMEOUT":        "DELIVERKIT_COMMAND_TIMEOUT",
	"SOCKET_TIMEOUT":      "DELIVERKIT_CONNECT_TIMEOUT",
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) get(name string) (string, bool) {
	if v, ok := r.lookup(name); ok && v != "" {
		return v, true
	}
	for old, replacement := range legacyEnv {
		if replacement != name {
			continue
		}
		if v, ok := r.lookup(old); ok && v != "" {
			logrus.WithFields(logrus.Fields{"old": old, "new": name}).Warn("deprecated env var used")
			return v, true
		}
	}
	return "", false
}

func (r *envReader) str(name string, dst *string) {
	if v, ok := r.get(name); ok {
		*dst = v
	}
}

func (r *envReader) integer(name string, dst *int) {
	if v, ok := r.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}
}

func (r *envReader) float(name string, dst *float64) {
	if v, ok := r.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = f
	}
}

func (r *envReader) boolean(name string, dst *bool) {
	if v, ok := r.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(name string, dst *time.Duration) {
	if v, ok := r.get(name); ok {
		d, err := ParseDuration(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}
}

func (r *envReader) list(name string, dst *[]string) {
	if v, ok := r.get(name); ok {
		*dst = SplitList(v)
	}
}

func (c *Config) loadEnv(lookup func(string) (string, bool)) error {
	r := &envReader{lookup: lookup}

	r.str("DELIVERKIT_SOURCE", &c.Source)
	r.str("DELIVERKIT_STORE", &c.Store)
	r.integer("DELIVERKIT_BATCH_SIZE", &c.BatchSize)
	r.integer("DELIVERKIT_WORKERS", &c.Workers)
	r.duration("DELIVERKIT_ADDRESS_TIMEOUT", &c.AddressTimeout)
	r.duration("DELIVERKIT_OVERALL_TIMEOUT", &c.OverallTimeout)
	r.str("DELIVERKIT_DISPOSABLE_SOURCE", &c.DisposableSource)
	r.list("DELIVERKIT_ROLE_KEYWORDS", &c.RoleKeywords)
	r.integer("DELIVERKIT_TYPO_THRESHOLD", &c.TypoThreshold)
	r.duration("DELIVERKIT_DNS_TIMEOUT", &c.DNSTimeout)

	r.boolean("DELIVERKIT_SKIP_SMTP", &c.SkipSMTP)
	r.boolean("DELIVERKIT_SKIP_CATCH_ALL", &c.SkipCatchAll)
	r.str("DELIVERKIT_HELO_DOMAIN", &c.HeloDomain)
	r.str("DELIVERKIT_MAIL_FROM", &c.MailFrom)
	r.str("DELIVERKIT_SMTP_PORT", &c.SMTPPort)
	r.duration("DELIVERKIT_CONNECT_TIMEOUT", &c.ConnectTimeout)
	r.duration("DELIVERKIT_COMMAND_TIMEOUT", &c.CommandTimeout)
	r.integer("DELIVERKIT_MAX_MX_HOSTS", &c.MaxMXHosts)
	r.duration("DELIVERKIT_GREYLIST_BACKOFF", &c.GreylistBackoff)
	r.float("DELIVERKIT_RATE_LIMIT", &c.RateLimit)
	r.integer("DELIVERKIT_RATE_BURST", &c.RateBurst)
	r.str("DELIVERKIT_PROXY_ADDRESS", &c.ProxyAddress)
	r.str("DELIVERKIT_PROXY_USERNAME", &c.ProxyUsername)
	r.str("DELIVERKIT_PROXY_PASSWORD", &c.ProxyPassword)

	r.str("DELIVERKIT_INPUT_FILE", &c.InputFile)
	r.str("DELIVERKIT_OUTPUT_FILE", &c.OutputFile)
	r.str("DELIVERKIT_QUEUE_URL", &c.QueueURL)
	wait := int(c.SQSWait)
	r.integer("DELIVERKIT_SQS_WAIT_SECONDS", &wait)
	c.SQSWait = int32(wait)
	r.str("DELIVERKIT_TABLE_NAME", &c.TableName)
	r.str("DELIVERKIT_REDIS_ADDR", &c.RedisAddr)
	r.integer("DELIVERKIT_REDIS_DB", &c.RedisDB)
	r.str("DELIVERKIT_REDIS_PASSWORD", &c.RedisPass)
	r.str("DELIVERKIT_POSTGRES_DSN", &c.PostgresDSN)

	r.str("DELIVERKIT_LOG_LEVEL", &c.LogLevel)
	if v, ok := r.lookup("LOG_LEVEL"); ok && v != "" {
		if _, set := r.lookup("DELIVERKIT_LOG_LEVEL"); !set {
			c.LogLevel = v
		}
	}
	r.str("DELIVERKIT_LOG_FORMAT", &c.LogFormat)
	r.str("DELIVERKIT_API_ADDR", &c.APIAddr)
	r.duration("DELIVERKIT_CACHE_TTL", &c.CacheTTL)
	r.str("DELIVERKIT_METRICS_ADDR", &c.MetricsAddr)
	if v, ok := r.lookup("SENTRY_DSN"); ok {
		c.SentryDSN = v
	}

	// Earlier deployments named the sources "local".
	if c.Source == "local" {
		c.Source = SourceFile
	}
	if c.Store == "local" {
		c.Store = StoreFile
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	return errors.Join(r.errs...)
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules the struct
// tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !c.SkipSMTP && (c.HeloDomain == "" || c.MailFrom == "") {
		return errors.New("invalid configuration: DELIVERKIT_HELO_DOMAIN and DELIVERKIT_MAIL_FROM are required unless DELIVERKIT_SKIP_SMTP is set")
	}
	if c.CommandTimeout >= c.AddressTimeout {
		logrus.WithFields(logrus.Fields{
			"command_timeout": c.CommandTimeout,
			"address_timeout": c.AddressTimeout,
		}).Warn("command timeout is not below the address timeout, probes will end in timeouts")
	}
	return nil
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// ParseDuration accepts Go duration syntax and, for compatibility, a bare
// number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
