package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/loclens/loclens/internal/store"
)

// InconsistencyType categorizes detected cross-store issues.
type InconsistencyType int

const (
	// InconsistencyOrphanFTS indicates an FTS row without a matching vector.
	InconsistencyOrphanFTS InconsistencyType = iota
	// InconsistencyOrphanVector indicates a vector without a matching FTS row.
	InconsistencyOrphanVector
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanFTS:
		return "orphan_fts"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	default:
		return "unknown"
	}
}

// Inconsistency represents one detected cross-store issue.
type Inconsistency struct {
	Type    InconsistencyType
	ChunkID string
	Details string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of distinct chunk IDs verified.
	Checked int
	// Inconsistencies contains all detected issues.
	Inconsistencies []Inconsistency
	// Duration is how long the check took.
	Duration time.Duration
}

// ConsistencyChecker validates that the FTS index and the vector store hold
// the same chunk IDs. The two stores are written independently per document,
// so a crash between writes can leave one side ahead of the other.
type ConsistencyChecker struct {
	lexical *store.LexicalStore
	vectors *store.VectorStore
}

// NewConsistencyChecker creates a checker over the given stores.
func NewConsistencyChecker(lexical *store.LexicalStore, vectors *store.VectorStore) *ConsistencyChecker {
	return &ConsistencyChecker{lexical: lexical, vectors: vectors}
}

// Check scans both stores for chunk IDs present on only one side. Image
// vectors share their IDs with FTS rows, so both vector tables count.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	ftsIDs, err := c.lexical.ChunkIDs(ctx)
	if err != nil {
		return nil, err
	}

	vectorIDs := c.vectors.AllChunkIDs()
	vectorIDs = append(vectorIDs, c.vectors.AllImageIDs()...)

	ftsSet := make(map[string]bool, len(ftsIDs))
	for _, id := range ftsIDs {
		ftsSet[id] = true
	}
	vectorSet := make(map[string]bool, len(vectorIDs))
	for _, id := range vectorIDs {
		vectorSet[id] = true
	}

	var issues []Inconsistency
	for _, id := range ftsIDs {
		if !vectorSet[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyOrphanFTS,
				ChunkID: id,
				Details: "FTS row without matching vector",
			})
		}
	}
	for _, id := range vectorIDs {
		if !ftsSet[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyOrphanVector,
				ChunkID: id,
				Details: "vector without matching FTS row",
			})
		}
	}

	checked := len(ftsSet)
	for id := range vectorSet {
		if !ftsSet[id] {
			checked++
		}
	}

	return &CheckResult{
		Checked:         checked,
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair deletes orphaned rows from whichever store holds them. A chunk that
// survives on only one side cannot be searched consistently, so dropping it
// and re-indexing the file is the safe direction.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) error {
	var orphanFTS, orphanVector []string
	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanFTS:
			orphanFTS = append(orphanFTS, issue.ChunkID)
		case InconsistencyOrphanVector:
			orphanVector = append(orphanVector, issue.ChunkID)
		}
	}

	if len(orphanFTS) > 0 {
		if err := c.lexical.DeleteChunksByIDs(ctx, orphanFTS); err != nil {
			slog.Warn("failed to delete orphan FTS rows",
				slog.Int("count", len(orphanFTS)),
				slog.String("error", err.Error()))
		} else {
			slog.Info("deleted orphan FTS rows", slog.Int("count", len(orphanFTS)))
		}
	}

	if len(orphanVector) > 0 {
		if err := c.vectors.DeleteChunks(ctx, orphanVector); err != nil {
			slog.Warn("failed to delete orphan vectors",
				slog.Int("count", len(orphanVector)),
				slog.String("error", err.Error()))
		} else {
			slog.Info("deleted orphan vectors", slog.Int("count", len(orphanVector)))
		}
	}

	return nil
}

// QuickCheck compares only the chunk counts across stores. It misses
// compensating mismatches but is cheap enough to run at startup.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	ftsCount, err := c.lexical.CountChunks(ctx)
	if err != nil {
		return false, err
	}

	vectorCount := c.vectors.CountChunks() + c.vectors.CountImages()

	consistent := ftsCount == vectorCount
	if !consistent {
		slog.Debug("index counts mismatch",
			slog.Int("fts", ftsCount),
			slog.Int("vector", vectorCount))
	}
	return consistent, nil
}
