package search

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is the
// value validated across domains by the original RRF paper and most search
// engines that ship the algorithm.
const DefaultRRFConstant = 60

// fuse merges a dense result list and a BM25 result list with Reciprocal
// Rank Fusion:
//
//	score(d) = Σ 1 / (k + rank_i)
//
// summed only over the lists that actually contain d; a hit found by one
// source gets no phantom contribution from the other. Descriptive fields are
// taken from the dense hit when present, since BM25 rows lack media type and
// playback times.
func fuse(dense, bm25 []Result, k int) []Result {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if len(dense) == 0 && len(bm25) == 0 {
		return nil
	}

	combined := make(map[string]*Result, len(dense)+len(bm25))
	order := make([]string, 0, len(dense)+len(bm25))

	for rank, r := range dense {
		r := r
		r.Score = 1.0 / float64(k+rank+1)
		combined[r.ChunkID] = &r
		order = append(order, r.ChunkID)
	}

	for rank, r := range bm25 {
		contribution := 1.0 / float64(k+rank+1)
		if existing, ok := combined[r.ChunkID]; ok {
			existing.Score += contribution
			existing.BM25Score = r.BM25Score
			continue
		}
		r := r
		r.Score = contribution
		combined[r.ChunkID] = &r
		order = append(order, r.ChunkID)
	}

	results := make([]Result, 0, len(combined))
	for _, id := range order {
		results = append(results, *combined[id])
	}

	// Stable sort: ties keep the order hits first appeared, dense list first.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results
}

// normalizeScores rescales scores to [0, 1] with min-max normalization so the
// fused score can be mixed with the rerank score on a comparable scale. A
// single result, or all-equal scores, normalize to 1.
func normalizeScores(results []Result) {
	if len(results) == 0 {
		return
	}

	min, max := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}

	if max == min {
		for i := range results {
			results[i].Score = 1.0
		}
		return
	}

	span := max - min
	for i := range results {
		results[i].Score = (results[i].Score - min) / span
	}
}
