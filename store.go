package albon

import "context"

// Record is one persisted row/document.
type Record = map[string]any

// QueryOptions narrows a Store.Query call.
type QueryOptions struct {
	// Limit caps the number of returned records; zero means no limit.
	Limit int64
	// Skip drops the first n matching records.
	Skip int64
	// SortField orders results by the named field when non-empty.
	SortField string
	// SortDescending inverts the sort order.
	SortDescending bool
}

// Store is the opaque persistence collaborator consumed by the ingest
// pattern. Implementations must be safe for concurrent use; every failure is
// reported to the caller, never swallowed.
type Store interface {
	Insert(ctx context.Context, table string, record Record) (string, error)
	Query(ctx context.Context, table string, filter Record, opts QueryOptions) ([]Record, error)
	Update(ctx context.Context, table string, filter Record, record Record) (int64, error)
	Delete(ctx context.Context, table string, filter Record) (int64, error)
}

// Encryptor applies field-level encryption to configured ingest fields
// before they reach the Store.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
