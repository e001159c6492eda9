package runner

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/sirupsen/logrus"

	"github.com/optimode/deliverkit"
	"github.com/optimode/deliverkit/internal/config"
	"github.com/optimode/deliverkit/internal/source"
	"github.com/optimode/deliverkit/internal/storage"
)

// NewVerifier builds the verification pipeline described by cfg.
func NewVerifier(cfg *config.Config, log logrus.FieldLogger) *deliverkit.Verifier {
	v := deliverkit.New().
		WithLogger(log).
		WithAddressTimeout(cfg.AddressTimeout).
		WithDisposable(deliverkit.DisposableOptions{
			Source:        cfg.DisposableSource,
			TypoThreshold: cfg.TypoThreshold,
		})
	if len(cfg.RoleKeywords) > 0 {
		v = v.WithRole(deliverkit.RoleOptions{Keywords: cfg.RoleKeywords})
	}
	if cfg.SkipSMTP {
		return v
	}

	opts := deliverkit.SMTPOptions{
		HeloDomain:      cfg.HeloDomain,
		MailFrom:        cfg.MailFrom,
		ConnectTimeout:  cfg.ConnectTimeout,
		CommandTimeout:  cfg.CommandTimeout,
		MaxMXHosts:      cfg.MaxMXHosts,
		Port:            cfg.SMTPPort,
		GreylistBackoff: cfg.GreylistBackoff,
		RateLimit:       cfg.RateLimit,
		RateBurst:       cfg.RateBurst,
		SkipCatchAll:    cfg.SkipCatchAll,
	}
	if cfg.ProxyAddress != "" {
		opts.Proxy = &deliverkit.ProxyOptions{
			Address:  cfg.ProxyAddress,
			Username: cfg.ProxyUsername,
			Password: cfg.ProxyPassword,
		}
	}
	return v.WithDNS(deliverkit.DNSOptions{Timeout: cfg.DNSTimeout}).WithSMTP(opts)
}

// OpenSource opens the configured candidate source. The lambda source is
// built per invocation by the Lambda handler and cannot be opened here.
func OpenSource(ctx context.Context, cfg *config.Config) (source.Source, error) {
	switch cfg.Source {
	case config.SourceFile:
		return source.OpenFile(cfg.InputFile)
	case config.SourceSQS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return source.NewSQSFromConfig(awsCfg, cfg.QueueURL, cfg.SQSWait), nil
	default:
		return nil, fmt.Errorf("%w: %q", source.ErrUnknownKind, cfg.Source)
	}
}

// OpenStore opens the configured result store, wrapped to count upserts.
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	var (
		s   storage.Store
		err error
	)
	switch cfg.Store {
	case config.StoreMemory:
		s = storage.NewMemory()
	case config.StoreFile:
		s, err = storage.OpenFile(cfg.OutputFile)
	case config.StoreDynamoDB:
		awsCfg, lerr := awsconfig.LoadDefaultConfig(ctx)
		if lerr != nil {
			return nil, fmt.Errorf("load aws config: %w", lerr)
		}
		s = storage.NewDynamoDBFromConfig(awsCfg, cfg.TableName)
	case config.StoreRedis:
		s, err = storage.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	case config.StorePostgres:
		s, err = storage.OpenPostgres(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownKind, cfg.Store)
	}
	if err != nil {
		return nil, err
	}
	return storage.Observed(s), nil
}
