package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/north-leaf-W/QUT-Assistant/core"
	"github.com/north-leaf-W/QUT-Assistant/storage"
)

const (
	DefaultTopK = 5

	bm25K1 = 1.5
	bm25B  = 0.75
)

type indexedChunk struct {
	chunk  storage.Chunk
	terms  map[string]int
	length int
}

// Index ranks stored chunks against a query with BM25. It is rebuilt as a
// whole; reads may run concurrently with a rebuild.
type Index struct {
	mu      sync.RWMutex
	chunks  []indexedChunk
	df      map[string]int
	avgLen  float64
	version string
	topK    int
}

func NewIndex(topK int) *Index {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Index{topK: topK, df: map[string]int{}}
}

func (x *Index) Build(chunks []storage.Chunk) {
	indexed := make([]indexedChunk, 0, len(chunks))
	df := make(map[string]int)
	total := 0
	for _, c := range chunks {
		tokens := Tokenize(c.Content)
		terms := make(map[string]int, len(tokens))
		for _, t := range tokens {
			terms[t]++
		}
		for t := range terms {
			df[t]++
		}
		total += len(tokens)
		indexed = append(indexed, indexedChunk{chunk: c, terms: terms, length: len(tokens)})
	}

	avg := 0.0
	if len(indexed) > 0 {
		avg = float64(total) / float64(len(indexed))
	}

	version := CorpusVersion(chunks)

	x.mu.Lock()
	x.chunks = indexed
	x.df = df
	x.avgLen = avg
	x.version = version
	x.mu.Unlock()
}

// Version identifies the chunks the index was last built from.
func (x *Index) Version() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.version
}

// CorpusVersion hashes chunk sources, positions and contents into a short
// hex id. Re-chunking or editing any document changes it.
func CorpusVersion(chunks []storage.Chunk) string {
	h := sha256.New()
	for _, c := range chunks {
		fmt.Fprintf(h, "%s\x00%d\x00%d\x00", c.Source, c.Index, len(c.Content))
		h.Write([]byte(c.Content))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.chunks)
}

type scored struct {
	pos   int
	score float64
}

// Retrieve returns up to topK chunks with a positive score, best first. The
// score is added to each document's metadata.
func (x *Index) Retrieve(ctx context.Context, query string) ([]core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := unique(Tokenize(query))

	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(terms) == 0 || len(x.chunks) == 0 {
		return []core.Document{}, nil
	}

	n := float64(len(x.chunks))
	results := make([]scored, 0)
	for i, c := range x.chunks {
		score := 0.0
		for _, t := range terms {
			tf := float64(c.terms[t])
			if tf == 0 {
				continue
			}
			df := float64(x.df[t])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := 1 - bm25B
			if x.avgLen > 0 {
				norm += bm25B * float64(c.length) / x.avgLen
			}
			score += idf * tf * (bm25K1 + 1) / (tf + bm25K1*norm)
		}
		if score > 0 {
			results = append(results, scored{pos: i, score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > x.topK {
		results = results[:x.topK]
	}

	docs := make([]core.Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, toDocument(x.chunks[r.pos].chunk, r.score))
	}
	return docs, nil
}

func toDocument(c storage.Chunk, score float64) core.Document {
	meta := make(map[string]any, len(c.Metadata)+3)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta["source"] = c.Source
	meta["chunk_index"] = c.Index
	meta["score"] = score
	return core.Document{Content: c.Content, Metadata: meta}
}

func unique(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
