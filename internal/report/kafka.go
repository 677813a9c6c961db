package report

import (
	"context"
	"errors"
	"net"
	"time"

	"coderunner/internal/sandbox/result"
	appErr "coderunner/pkg/errors"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the verdict topic producer.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	ClientID     string        `yaml:"clientId"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher produces each verdict to a topic keyed by submission id.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a producer for cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	dialer := &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   cfg.DialTimeout,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Transport: &kafka.Transport{
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
			ClientID: cfg.ClientID,
		},
	}
	return newKafkaPublisher(writer), nil
}

func newKafkaPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, verdict result.Verdict) error {
	data, err := encodeVerdict(verdict)
	if err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "encode verdict failed")
	}
	msg := kafka.Message{
		Key:   []byte(verdict.SubmissionID),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-verdict-kind", Value: []byte(verdict.Kind)},
			{Key: "x-language", Value: []byte(verdict.Language)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "produce verdict failed").
			WithDetail("submission_id", verdict.SubmissionID)
	}
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
