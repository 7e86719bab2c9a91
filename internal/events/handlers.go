package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/segmentio/kafka-go"

	"github.com/wolfman30/salon-ai-platform/pkg/logging"
)

// LogHandler writes events to the structured log. Used when no broker is configured.
type LogHandler struct {
	logger *logging.Logger
}

func NewLogHandler(logger *logging.Logger) *LogHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Handle(_ context.Context, entry OutboxEntry) error {
	h.logger.Info("appointment event",
		"event_id", entry.ID,
		"type", entry.Type,
		"appointment_id", entry.AggregateID,
		"payload", string(entry.Payload),
	)
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaHandler publishes events to a Kafka topic keyed by appointment id.
type KafkaHandler struct {
	writer messageWriter
}

// SplitBrokers parses a comma-separated broker list.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func NewKafkaHandler(brokers []string, topic string) *KafkaHandler {
	if len(brokers) == 0 {
		panic("events: kafka brokers required")
	}
	if topic == "" {
		panic("events: kafka topic required")
	}
	return &KafkaHandler{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (h *KafkaHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	msg := kafka.Message{
		Key:   []byte(entry.AggregateID.String()),
		Value: entry.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(entry.ID.String())},
			{Key: "event_type", Value: []byte(entry.Type)},
		},
	}
	if err := h.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: kafka write: %w", err)
	}
	return nil
}

func (h *KafkaHandler) Close() error {
	return h.writer.Close()
}

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSHandler sends events to an SQS queue.
type SQSHandler struct {
	client   sqsSender
	queueURL string
}

func NewSQSHandler(client *sqs.Client, queueURL string) *SQSHandler {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	return newSQSHandler(client, queueURL)
}

func newSQSHandler(client sqsSender, queueURL string) *SQSHandler {
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSHandler{client: client, queueURL: queueURL}
}

func (h *SQSHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	_, err := h.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(h.queueURL),
		MessageBody: aws.String(string(entry.Payload)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_id":       {DataType: aws.String("String"), StringValue: aws.String(entry.ID.String())},
			"event_type":     {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
			"appointment_id": {DataType: aws.String("String"), StringValue: aws.String(entry.AggregateID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return nil
}
