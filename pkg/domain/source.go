package domain

import "time"

// Health is a source's usability flag for automatic checks
type Health string

const (
	Usable   Health = "usable"
	Unusable Health = "unusable"
)

// Source is a monitored blog and its extraction schema
type Source struct {
	ID                 int64
	Name               string
	URL                string
	Schema             []byte // current extraction schema, JSON encoded
	ProposedSchema     []byte // pending refinement, nil when none
	SchemaValidated    bool   // current schema produced at least one stub when last validated
	FeedURL            string // feed advertised by the listing page, informational
	Health             Health
	RefinementAttempts int
	LastCheckedAt      *time.Time
	CreatedAt          time.Time
	LastModifiedBy     string
	LastModifiedAt     time.Time
}

// IsUsable reports whether the source is included in automatic checks.
func (s Source) IsUsable() bool {
	return s.Health == Usable
}

// Ticket is a request for human attention on a source
type Ticket struct {
	ID         int64
	SourceID   int64
	Message    string
	OpenedBy   string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// Open reports whether the ticket is unresolved.
func (t Ticket) Open() bool {
	return t.ResolvedAt == nil
}
