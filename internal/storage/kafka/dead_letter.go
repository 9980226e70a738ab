// Package kafka publishes dead letters to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"invoiceMonitor/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterPublisher writes dead letters as JSON messages keyed by network.
type DeadLetterPublisher struct {
	writer messageWriter
	Topic  string
}

// NewDeadLetterPublisher creates a Kafka publisher for dead letters.
func NewDeadLetterPublisher(brokers []string, topic string) (*DeadLetterPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &DeadLetterPublisher{writer: writer, Topic: topic}, nil
}

// PutDeadLetter publishes one dead letter.
func (p *DeadLetterPublisher) PutDeadLetter(ctx context.Context, letter model.DeadLetter) error {
	msg, err := deadLetterMessage(letter)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (p *DeadLetterPublisher) Close() error {
	return p.writer.Close()
}

func deadLetterMessage(letter model.DeadLetter) (kafka.Message, error) {
	value, err := json.Marshal(letter)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal dead letter: %w", err)
	}
	return kafka.Message{
		Key:   []byte(letter.Network),
		Value: value,
		Headers: []kafka.Header{
			{Key: "stage", Value: []byte(letter.Stage)},
			{Key: "block_number", Value: []byte(strconv.FormatUint(letter.Record.BlockNumber, 10))},
		},
	}, nil
}
