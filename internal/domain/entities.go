package domain

import "time"

// Metadata keys stamped on every stored chunk.
const (
	MetaSource      = "source"
	MetaUploadedAt  = "uploaded_at"
	MetaIngestID    = "ingest_id"
	MetaContentHash = "content_hash"
	MetaChunkIndex  = "chunk_index"
)

// TimestampLayout is the format of the uploaded_at tag.
const TimestampLayout = "2006-01-02 15:04:05"

// Document is an ingested file as seen by the session registry.
type Document struct {
	Name       string
	UploadedAt time.Time
	Chunks     int
}

// Chunk is a bounded span of document text. Chunks are immutable once stored.
type Chunk struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Source returns the originating document name.
func (c Chunk) Source() string {
	return c.Metadata[MetaSource]
}

type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role Role
	Text string
}

// Predicate is an equality conjunction over chunk metadata.
// An empty predicate matches every chunk.
type Predicate map[string]string

// Where is shorthand for a single-key predicate.
func Where(key, value string) Predicate {
	return Predicate{key: value}
}

// Match reports whether metadata satisfies every term of the predicate.
func (p Predicate) Match(metadata map[string]string) bool {
	for k, v := range p {
		if metadata[k] != v {
			return false
		}
	}
	return true
}
