package event

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type KafkaConsumer struct {
	reader *kafka.Reader
}

func NewKafkaConsumer(brokers []string, topic, groupID string) (*KafkaConsumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	rCfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,    // records are tiny; don't hold them back
		MaxBytes: 10e6, // 10mb
		MaxWait:  1 * time.Second,
		// A new group replays the whole stream so the ledger can be rebuilt
		StartOffset: kafka.FirstOffset,
	}

	return &KafkaConsumer{reader: kafka.NewReader(rCfg)}, nil
}

// ReadRecord blocks until the next record arrives or ctx is done. A record
// that fails to decode is returned as a *DecodeError so the caller can skip
// it and keep reading.
func (kc *KafkaConsumer) ReadRecord(ctx context.Context) (AuditRecord, error) {
	msg, err := kc.reader.ReadMessage(ctx)
	if err != nil {
		return AuditRecord{}, err
	}

	return messageRecord(msg)
}

func (kc *KafkaConsumer) Close() error {
	if err := kc.reader.Close(); err != nil {
		return errors.Wrap(err, "failed to close kafka reader")
	}
	return nil
}
