package event

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type KafkaPublisher struct {
	writer *kafka.Writer
}

/*
Balancer: &kafka.Hash{}: messages with the same key land on the same
partition. The key is the question id, so every audit record for one
question is consumed in the order the relay produced it.

Async: true: the relay must never wait on the audit stream. WriteMessages
returns immediately and delivery errors are reported through Completion,
where we only log them. Losing an audit record is acceptable; stalling
the fan-out is not.

RequiredAcks: kafka.RequireOne: with Async there is nobody waiting for
the ack anyway, so we take the cheaper leader-only ack.

Compression: kafka.Snappy: records are small JSON documents that compress
well.
*/
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  5,
		Compression:  kafka.Snappy,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn().Err(err).Int("records", len(messages)).Msg("audit records not delivered")
			}
		},
	}

	return &KafkaPublisher{writer: w}, nil
}

func (kp *KafkaPublisher) Publish(ctx context.Context, rec AuditRecord) error {
	msg, err := recordMessage(rec)
	if err != nil {
		return err
	}

	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "failed to write message to kafka")
	}

	return nil
}

func (kp *KafkaPublisher) Close() error {
	if err := kp.writer.Close(); err != nil {
		return errors.Wrap(err, "failed to close kafka writer")
	}
	return nil
}
