package intelligence

import "sort"

// DefaultRRFK is the standard reciprocal rank fusion smoothing constant.
const DefaultRRFK = 60.0

// missingRankPenalty is added to the length of a ranking to get the synthetic rank
// of an ID absent from it.
const missingRankPenalty = 100

// Fused is one entry of a fused ranking.
type Fused struct {
	ID    string
	Score float64

	// VectorRank and KeywordRank are 0-based positions in each source,
	// or -1 when the ID was absent from that source.
	VectorRank  int
	KeywordRank int
}

// Fuse combines a vector ranking and a keyword ranking with reciprocal rank fusion.
//
// Both inputs are ID lists ordered best first. Each ID scores
//
//	VectorWeight/(k + vectorRank) + KeywordWeight/(k + keywordRank)
//
// where an ID missing from one list takes the synthetic rank len(list)+100 there.
// The result is sorted by score, descending; ties keep first-seen order, vector IDs
// before keyword-only IDs. A k of 0 or less uses DefaultRRFK.
func Fuse(vector, keyword []string, intent Intent, k float64) []Fused {
	if k <= 0 {
		k = DefaultRRFK
	}

	vectorRank := rankMap(vector)
	keywordRank := rankMap(keyword)

	order := make([]string, 0, len(vector)+len(keyword))
	seen := make(map[string]bool, len(vector)+len(keyword))
	for _, list := range [][]string{vector, keyword} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				order = append(order, id)
			}
		}
	}

	fused := make([]Fused, 0, len(order))
	for _, id := range order {
		f := Fused{ID: id, VectorRank: -1, KeywordRank: -1}

		vr, ok := vectorRank[id]
		if ok {
			f.VectorRank = vr
		} else {
			vr = len(vector) + missingRankPenalty
		}
		kr, ok := keywordRank[id]
		if ok {
			f.KeywordRank = kr
		} else {
			kr = len(keyword) + missingRankPenalty
		}

		f.Score = intent.VectorWeight/(k+float64(vr)) + intent.KeywordWeight/(k+float64(kr))
		fused = append(fused, f)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	return fused
}

// VectorOnly scores a vector ranking alone as 1/(k + rank).
//
// It is used when the keyword source returned nothing.
func VectorOnly(vector []string, k float64) []Fused {
	if k <= 0 {
		k = DefaultRRFK
	}
	fused := make([]Fused, 0, len(vector))
	seen := make(map[string]bool, len(vector))
	for rank, id := range vector {
		if seen[id] {
			continue
		}
		seen[id] = true
		fused = append(fused, Fused{
			ID:          id,
			Score:       1 / (k + float64(rank)),
			VectorRank:  rank,
			KeywordRank: -1,
		})
	}
	return fused
}

func rankMap(ids []string) map[string]int {
	ranks := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, ok := ranks[id]; !ok {
			ranks[id] = i
		}
	}
	return ranks
}
