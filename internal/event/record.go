package event

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// recordMessage builds the kafka message for rec, keyed by question id.
func recordMessage(rec AuditRecord) (kafka.Message, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "failed to marshal audit record")
	}

	return kafka.Message{
		Key:   []byte(rec.Update.QuestionID),
		Value: b,
		Time:  rec.RelayedAt,
	}, nil
}

func messageRecord(msg kafka.Message) (AuditRecord, error) {
	var rec AuditRecord
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		return AuditRecord{}, &DecodeError{Offset: msg.Offset, Err: err}
	}
	return rec, nil
}

type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return "undecodable audit record: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }
