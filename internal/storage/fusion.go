package storage

import (
	"sort"
	"strings"
)

// Fuse merges ranked lists with Reciprocal Rank Fusion.
// Each hit scores the sum of 1/(rankConstant+rank) over the lists it appears in,
// with 1-based ranks. Results are sorted by descending fused score; ties keep
// the order of first appearance, scanning the lists in argument order.
func Fuse(rankConstant int, lists ...[]Hit) []Hit {
	if rankConstant <= 0 {
		rankConstant = DefaultRankConstant
	}

	type entry struct {
		hit   Hit
		score float64
	}

	byID := make(map[string]*entry)
	ordered := make([]*entry, 0)
	for _, list := range lists {
		for rank, hit := range list {
			e, seen := byID[hit.ID]
			if !seen {
				e = &entry{hit: hit}
				byID[hit.ID] = e
				ordered = append(ordered, e)
			}
			e.score += 1.0 / float64(rankConstant+rank+1)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].score > ordered[j].score
	})

	fused := make([]Hit, len(ordered))
	for i, e := range ordered {
		fused[i] = e.hit
		fused[i].Score = e.score
	}
	return fused
}

// Distinct drops hits whose (metadata, text) pair was already seen and keeps at most k.
func Distinct(hits []Hit, k int) []Hit {
	if k <= 0 {
		k = DefaultK
	}
	seen := make(map[string]bool, len(hits))
	out := make([]Hit, 0, min(k, len(hits)))
	for _, hit := range hits {
		key := MetadataString(hit.Metadata) + "\x00" + hit.Text
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, hit)
		if len(out) == k {
			break
		}
	}
	return out
}

// MetadataString renders metadata as {'k1': 'v1', 'k2': 'v2'} with sorted keys.
func MetadataString(metadata map[string]string) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("'" + k + "': '" + metadata[k] + "'")
	}
	b.WriteByte('}')
	return b.String()
}
