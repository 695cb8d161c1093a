// Package store provides the relational+vector persistence layer for the
// memory engine: banks, documents, memory units, memory links, entities,
// unit-entity associations, and async operations (spec.md §3, §4.1, §6).
//
// It follows the same dependency shape as the teacher's pkg/memory: a KV
// store for row storage (pkg/kv), a vector index per bank for similarity
// search (pkg/vecstore), and a blob store for document/index archival
// (pkg/storage). Unlike pkg/memory it has no conversation or compaction
// concept — those are replaced entirely by the typed, multi-relation graph
// described in spec.md.
package store

import (
	"time"
)

// FactType is one of the four kinds of memory unit (spec.md §3, Glossary).
type FactType string

const (
	FactWorld       FactType = "world"
	FactAgent       FactType = "agent"
	FactOpinion     FactType = "opinion"
	FactObservation FactType = "observation"
)

// Valid reports whether t is one of the four declared fact types.
func (t FactType) Valid() bool {
	switch t {
	case FactWorld, FactAgent, FactOpinion, FactObservation:
		return true
	}
	return false
}

// LinkType is the type tag of a memory_link edge (spec.md §3).
type LinkType string

const (
	LinkTemporal  LinkType = "temporal"
	LinkSemantic  LinkType = "semantic"
	LinkEntity    LinkType = "entity"
	LinkCauses    LinkType = "causes"
	LinkCausedBy  LinkType = "caused_by"
	LinkEnables   LinkType = "enables"
	LinkPrevents  LinkType = "prevents"
)

// OperationStatus is the lifecycle state of an AsyncOperation.
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
)

// Personality is a Big-Five trait record: five floats in [0,1], one per
// trait, and no other value. The neutral default is 0.5 for all five.
type Personality struct {
	Openness          float64 `msgpack:"o"`
	Conscientiousness float64 `msgpack:"c"`
	Extraversion      float64 `msgpack:"e"`
	Agreeableness     float64 `msgpack:"a"`
	Neuroticism       float64 `msgpack:"n"`
}

// NeutralPersonality is the auto-created default (spec.md §3).
func NeutralPersonality() Personality {
	return Personality{0.5, 0.5, 0.5, 0.5, 0.5}
}

// Bank is a per-subject memory partition (spec.md §3, Glossary).
type Bank struct {
	ID          string      `msgpack:"id"`
	Name        string      `msgpack:"name"`
	Personality Personality `msgpack:"personality"`
	Background  string      `msgpack:"background"`
	CreatedAt   time.Time   `msgpack:"created_at"`
	UpdatedAt   time.Time   `msgpack:"updated_at"`
}

// Document is a caller-identified grouping of raw ingested text (spec.md §3).
type Document struct {
	ID          string    `msgpack:"id"`
	BankID      string    `msgpack:"bank_id"`
	OriginalText string   `msgpack:"original_text"`
	ContentHash string    `msgpack:"content_hash"`
	UnitCount   int       `msgpack:"unit_count"`
	CreatedAt   time.Time `msgpack:"created_at"`
	UpdatedAt   time.Time `msgpack:"updated_at"`
}

// MemoryUnit is the atomic fact record (spec.md §3).
type MemoryUnit struct {
	ID         string   `msgpack:"id"`
	BankID     string   `msgpack:"bank_id"`
	DocumentID string   `msgpack:"document_id,omitempty"`
	Text       string   `msgpack:"text"`
	FactType   FactType `msgpack:"fact_type"`
	Context    string   `msgpack:"context,omitempty"`

	// Embedding is nil until computed; unit-normalized when set, and
	// never mutated thereafter (spec.md §3 Invariants).
	Embedding []float32 `msgpack:"embedding,omitempty"`

	OccurredStart time.Time `msgpack:"occurred_start"`
	OccurredEnd   time.Time `msgpack:"occurred_end"`
	MentionedAt   time.Time `msgpack:"mentioned_at"`

	Metadata map[string]string `msgpack:"metadata,omitempty"`

	// ObservationEntityID back-references the entity an observation-typed
	// unit summarizes (spec.md §3 Invariants); empty for non-observations.
	ObservationEntityID string `msgpack:"observation_entity_id,omitempty"`

	CreatedAt time.Time `msgpack:"created_at"`
}

// IsPoint reports whether this unit's temporal extent collapses to a point.
func (u *MemoryUnit) IsPoint() bool {
	return u.OccurredStart.Equal(u.OccurredEnd)
}

// OverlapsTemporal reports whether u and other's [OccurredStart,OccurredEnd]
// ranges intersect (used by the dedup rule in spec.md §4.6).
func (u *MemoryUnit) OverlapsTemporal(other *MemoryUnit) bool {
	return !u.OccurredEnd.Before(other.OccurredStart) && !other.OccurredEnd.Before(u.OccurredStart)
}

// MemoryLink is a typed directed edge between two units in the same bank
// (spec.md §3).
type MemoryLink struct {
	FromUnitID string   `msgpack:"from_unit_id"`
	ToUnitID   string   `msgpack:"to_unit_id"`
	LinkType   LinkType `msgpack:"link_type"`
	Weight     float32  `msgpack:"weight"`
	// EntityID is set only for LinkEntity edges.
	EntityID string `msgpack:"entity_id,omitempty"`
}

// UniqueKey returns the (from, to, type, entity-or-zero) uniqueness tuple
// from spec.md §3/§6 as a single string, for ON-CONFLICT-DO-NOTHING style
// dedup on insert.
func (l *MemoryLink) UniqueKey() string {
	eid := l.EntityID
	if eid == "" {
		eid = "\x00"
	}
	return l.FromUnitID + "\x1f" + l.ToUnitID + "\x1f" + string(l.LinkType) + "\x1f" + eid
}

// Entity is a resolved canonical referent within a bank (spec.md §3).
type Entity struct {
	ID            string            `msgpack:"id"`
	BankID        string            `msgpack:"bank_id"`
	CanonicalName string            `msgpack:"canonical_name"`
	MentionCount  int               `msgpack:"mention_count"`
	FirstSeen     time.Time         `msgpack:"first_seen"`
	LastSeen      time.Time         `msgpack:"last_seen"`
	Metadata      map[string]string `msgpack:"metadata,omitempty"`

	// Embedding is the running mean of every surface-form embedding seen
	// for this entity, L2-normalized after each update (same incremental
	// centroid idiom as vecid.Registry's cluster centroids). Used by the
	// resolver's embedding-neighbor candidate pass.
	Embedding []float32 `msgpack:"embedding,omitempty"`
}

// AsyncOperation is the task ledger row (spec.md §3).
type AsyncOperation struct {
	ID          string          `msgpack:"id"`
	BankID      string          `msgpack:"bank_id"`
	TaskType    string          `msgpack:"task_type"`
	ItemsCount  int             `msgpack:"items_count"`
	DocumentID  string          `msgpack:"document_id,omitempty"`
	CreatedAt   time.Time       `msgpack:"created_at"`
	Status      OperationStatus `msgpack:"status"`
	ErrorMessage string         `msgpack:"error_message,omitempty"`
}
