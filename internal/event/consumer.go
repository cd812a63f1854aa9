package event

import "context"

type AuditConsumer interface {
	ReadRecord(ctx context.Context) (AuditRecord, error)
	Close() error
}
