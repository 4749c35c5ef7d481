package storage

import "time"

// Chunk is one indexed piece of a corpus file.
type Chunk struct {
	ID             string         `bson:"chunk_id"`
	Source         string         `bson:"source"`
	SourceChecksum string         `bson:"source_checksum"`
	Index          int            `bson:"chunk_index"`
	Content        string         `bson:"content"`
	Metadata       map[string]any `bson:"metadata"`
	UpdatedAt      time.Time      `bson:"updated_at"`
}

// ChunkStorage keeps corpus chunks grouped by source file. A source's
// checksum identifies the file content its chunks were cut from.
type ChunkStorage interface {
	// SourceChecksum returns "" when the source is unknown
	SourceChecksum(source string) (string, error)
	// ReplaceSource drops previous chunks of source and stores chunks
	ReplaceSource(source, checksum string, chunks []Chunk) error
	DeleteSource(source string) error
	Sources() ([]string, error)
	// Chunks returns every stored chunk ordered by source and index
	Chunks() ([]Chunk, error)
	Close() error
}
