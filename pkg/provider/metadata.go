package provider

import "time"

// MetadataStore is the key-value metadata capability contract. Entries carry
// a monotonically increasing version used for optimistic concurrency via
// CompareAndSwap; a failed swap reports the current version in the result
// rather than failing the call.
type MetadataStore interface {
	GetEntry(ctx *Context, key string) (Entry, error)
	PutEntry(ctx *Context, req PutEntryRequest) (Entry, error)

	// CompareAndSwap writes the value only if the stored version equals
	// ExpectedVersion. ExpectedVersion zero means "create only".
	CompareAndSwap(ctx *Context, req CASRequest) (CASResult, error)

	DeleteEntry(ctx *Context, req DeleteEntryRequest) error

	// ListEntries pages keys under a prefix; empty NextToken in the result
	// means the listing is complete.
	ListEntries(ctx *Context, req ListEntriesRequest) (EntryList, error)
}

// Entry is a stored metadata record.
type Entry struct {
	Key       string
	Value     []byte
	Version   int64
	UpdatedAt time.Time
}

// PutEntryRequest writes an entry unconditionally.
type PutEntryRequest struct {
	Key            string
	Value          []byte
	IdempotencyKey string
}

// CASRequest is a conditional write.
type CASRequest struct {
	Key             string
	Value           []byte
	ExpectedVersion int64
	IdempotencyKey  string
}

// CASResult reports whether the swap happened. On failure CurrentVersion
// holds the version actually stored so the caller can retry or abort.
type CASResult struct {
	Swapped        bool
	CurrentVersion int64
}

// DeleteEntryRequest removes an entry.
type DeleteEntryRequest struct {
	Key            string
	IdempotencyKey string
}

// ListEntriesRequest pages entry keys.
type ListEntriesRequest struct {
	Prefix     string
	NextToken  string
	MaxResults int
}

// EntryList is one page of keys.
type EntryList struct {
	Keys      []string
	NextToken string
}
