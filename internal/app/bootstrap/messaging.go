package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/salon-ai-platform/internal/config"
	"github.com/wolfman30/salon-ai-platform/internal/events"
	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

// LoadAWSConfig centralizes AWS SDK initialization so LocalStack and production
// share the same wiring.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	return config.LoadDefaultConfig(ctx, loaders...)
}

// NewSQSClient builds an SQS client honouring AWS_ENDPOINT_OVERRIDE.
func NewSQSClient(awsCfg aws.Config, cfg *appconfig.Config) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint := strings.TrimSpace(cfg.AWSEndpointOverride); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// Notifier delivers outbox entries and releases its transport on Close.
type Notifier struct {
	events.DeliveryHandler
	Name  string
	close func() error
}

func (n *Notifier) Close() error {
	if n == nil || n.close == nil {
		return nil
	}
	return n.close()
}

// BuildNotifier selects the outbox transport named by NOTIFY_TRANSPORT:
// "kafka", "sqs" or "log".
func BuildNotifier(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Notifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.NotifyTransport {
	case "kafka":
		brokers := events.SplitBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, fmt.Errorf("bootstrap: KAFKA_BROKERS is required for kafka transport")
		}
		handler := events.NewKafkaHandler(brokers, cfg.KafkaTopic)
		logger.Info("outbox notifier configured", "transport", "kafka", "topic", cfg.KafkaTopic, "brokers", len(brokers))
		return &Notifier{DeliveryHandler: handler, Name: "kafka", close: handler.Close}, nil
	case "sqs":
		if strings.TrimSpace(cfg.NotifyQueueURL) == "" {
			return nil, fmt.Errorf("bootstrap: NOTIFY_QUEUE_URL is required for sqs transport")
		}
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		logger.Info("outbox notifier configured", "transport", "sqs", "queue_url", cfg.NotifyQueueURL)
		return &Notifier{DeliveryHandler: events.NewSQSHandler(NewSQSClient(awsCfg, cfg), cfg.NotifyQueueURL), Name: "sqs"}, nil
	case "", "log":
		return &Notifier{DeliveryHandler: events.NewLogHandler(logger.Component("outbox")), Name: "log"}, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown notify transport %q", cfg.NotifyTransport)
	}
}
