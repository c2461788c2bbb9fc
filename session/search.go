package session

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SessionResult is one ranked session from full-text search.
type SessionResult struct {
	Meta    Meta
	Score   float64
	Snippet string
}

// MemoryResult is one ranked memory entry; the top result always has
// Relevance 1.
type MemoryResult struct {
	Entry     MemoryEntry
	Relevance float64
}

var booleanKeywords = map[string]bool{
	"and": true, "or": true, "not": true, "near": true,
}

// queryFolder strips diacritics so accented input matches ASCII-indexed
// content.
var queryFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// sanitizeQuery turns free text into a safe FTS MATCH expression: fold
// diacritics, strip operators, drop boolean keywords and tokens shorter
// than two runes. Returns "" when nothing searchable remains.
func sanitizeQuery(query string) string {
	folded, _, err := transform.String(queryFolder, query)
	if err != nil {
		folded = query
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, folded)

	var tokens []string
	for _, tok := range strings.Fields(cleaned) {
		if len([]rune(tok)) < 2 {
			continue
		}
		if booleanKeywords[strings.ToLower(tok)] {
			continue
		}
		tokens = append(tokens, tok)
	}
	return strings.Join(tokens, " ")
}

const (
	searchLimit   = 50
	recencyWeight = 0.25
)

// SearchSessions runs full-text search over turn content, deduplicates by
// session keeping the best hit, and boosts recently updated sessions so
// they rank higher for ties. Project is an optional filter.
func (s *Store) SearchSessions(ctx context.Context, query, project string) ([]SessionResult, error) {
	match := sanitizeQuery(query)
	if match == "" {
		return nil, nil
	}

	hits, err := s.index.SearchTurns(ctx, match, project, searchLimit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	best := make(map[string]TurnHit)
	for _, h := range hits {
		if prev, ok := best[h.SessionID]; !ok || h.Rank > prev.Rank {
			best[h.SessionID] = h
		}
	}

	var newest, oldest int64
	metas := make(map[string]Meta, len(best))
	for id := range best {
		meta, ok, err := s.index.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		metas[id] = meta
		if newest == 0 || meta.Updated > newest {
			newest = meta.Updated
		}
		if oldest == 0 || meta.Updated < oldest {
			oldest = meta.Updated
		}
	}

	span := float64(newest - oldest)
	var results []SessionResult
	for id, hit := range best {
		meta, ok := metas[id]
		if !ok {
			continue
		}
		recency := 1.0
		if span > 0 {
			recency = float64(meta.Updated-oldest) / span
		}
		results = append(results, SessionResult{
			Meta:    meta,
			Score:   hit.Rank + recencyWeight*recency,
			Snippet: hit.Snippet,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Meta.Updated > results[j].Meta.Updated
	})
	return results, nil
}

// BM25 constants, the usual Robertson defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// SearchMemory ranks memory entries by BM25 over their content, optionally
// blended with cosine similarity when a query embedding is supplied.
// Scores are normalized so the top result has relevance 1.
func (s *Store) SearchMemory(ctx context.Context, query string, queryEmbedding []float32) ([]MemoryResult, error) {
	match := sanitizeQuery(query)
	if match == "" {
		return nil, nil
	}
	entries, err := s.index.ListMemory(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	queryTerms := strings.Fields(strings.ToLower(match))
	docs := make([][]string, len(entries))
	totalLen := 0
	for i, e := range entries {
		docs[i] = strings.Fields(strings.ToLower(e.Content))
		totalLen += len(docs[i])
	}
	avgLen := float64(totalLen) / float64(len(entries))
	if avgLen == 0 {
		return nil, nil
	}

	// Document frequency per query term.
	df := make(map[string]int, len(queryTerms))
	for _, doc := range docs {
		seen := map[string]bool{}
		for _, w := range doc {
			seen[w] = true
		}
		for _, t := range queryTerms {
			if seen[t] {
				df[t]++
			}
		}
	}

	n := float64(len(entries))
	var results []MemoryResult
	for i, e := range entries {
		tf := map[string]int{}
		for _, w := range docs[i] {
			tf[w]++
		}
		score := 0.0
		for _, t := range queryTerms {
			f := float64(tf[t])
			if f == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[t])+0.5)/(float64(df[t])+0.5))
			dl := float64(len(docs[i]))
			score += idf * (f * (bm25K1 + 1)) / (f + bm25K1*(1-bm25B+bm25B*dl/avgLen))
		}
		if len(queryEmbedding) > 0 && len(e.Embedding) > 0 {
			score = 0.7*score + 0.3*float64(CosineSimilarity(queryEmbedding, e.Embedding))
		}
		if score > 0 {
			results = append(results, MemoryResult{Entry: e, Relevance: score})
		}
	}
	if len(results) == 0 {
		return nil, nil
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		return results[i].Entry.UpdatedAt > results[j].Entry.UpdatedAt
	})
	top := results[0].Relevance
	for i := range results {
		results[i].Relevance /= top
	}
	return results, nil
}

// CosineSimilarity returns the cosine of the angle between two vectors, 0
// for mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
