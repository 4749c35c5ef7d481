package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/north-leaf-W/QUT-Assistant/lib/sl"
	"github.com/north-leaf-W/QUT-Assistant/storage"
)

// Stats summarizes one pass of the loader.
type Stats struct {
	Files     int
	Indexed   int
	Unchanged int
	Skipped   int
	Pruned    int
}

// Loader keeps chunk storage in step with a documents directory.
type Loader struct {
	fsys    fs.FS
	pattern string
	chunker Chunker
	store   storage.ChunkStorage
	log     *slog.Logger
}

func NewLoader(fsys fs.FS, pattern string, chunkRunes int, store storage.ChunkStorage, log *slog.Logger) *Loader {
	if pattern == "" {
		pattern = "*"
	}
	return &Loader{
		fsys:    fsys,
		pattern: pattern,
		chunker: Chunker{MaxRunes: chunkRunes},
		store:   store,
		log:     log.With(sl.Module("docs-loader")),
	}
}

// Load chunks every matching file whose checksum changed and removes sources
// that no longer exist. Files that are not valid UTF-8 are skipped.
func (l *Loader) Load(ctx context.Context) (Stats, error) {
	var stats Stats

	matches, err := doublestar.Glob(l.fsys, l.pattern)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return stats, fmt.Errorf("matching %q: %w", l.pattern, err)
		}
		l.log.Warn("documents directory not found")
	}

	seen := make(map[string]struct{}, len(matches))
	for _, name := range matches {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		info, err := fs.Stat(l.fsys, name)
		if err != nil || info.IsDir() {
			continue
		}
		stats.Files++

		data, err := fs.ReadFile(l.fsys, name)
		if err != nil {
			l.log.With(slog.String("file", name)).Warn("reading document", sl.Err(err))
			stats.Skipped++
			continue
		}
		if !utf8.Valid(data) {
			l.log.With(slog.String("file", name)).Warn("document is not utf-8")
			stats.Skipped++
			continue
		}
		seen[name] = struct{}{}

		sum := checksum(data)
		old, err := l.store.SourceChecksum(name)
		if err != nil {
			return stats, fmt.Errorf("reading checksum of %s: %w", name, err)
		}
		if old != "" && old == sum {
			stats.Unchanged++
			continue
		}

		chunks := l.chunks(name, string(data))
		if err := l.store.ReplaceSource(name, sum, chunks); err != nil {
			return stats, fmt.Errorf("storing %s: %w", name, err)
		}
		stats.Indexed++
		l.log.With(
			slog.String("file", name),
			slog.Int("chunks", len(chunks)),
		).Debug("document indexed")
	}

	sources, err := l.store.Sources()
	if err != nil {
		return stats, fmt.Errorf("listing sources: %w", err)
	}
	for _, source := range sources {
		if _, ok := seen[source]; ok {
			continue
		}
		if err := l.store.DeleteSource(source); err != nil {
			return stats, fmt.Errorf("pruning %s: %w", source, err)
		}
		stats.Pruned++
	}

	l.log.With(
		slog.Int("files", stats.Files),
		slog.Int("indexed", stats.Indexed),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("skipped", stats.Skipped),
		slog.Int("pruned", stats.Pruned),
	).Info("documents loaded")
	return stats, nil
}

func (l *Loader) chunks(source, text string) []storage.Chunk {
	parts := l.chunker.Split(text)
	chunks := make([]storage.Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, storage.Chunk{
			ID:      fmt.Sprintf("%s#%d", source, i),
			Source:  source,
			Index:   i,
			Content: part,
			Metadata: map[string]any{
				"source":      source,
				"chunk_index": i,
				"checksum":    checksum([]byte(part)),
			},
		})
	}
	return chunks
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
