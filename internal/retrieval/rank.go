package retrieval

import (
	"cmp"
	"slices"

	"casematch/internal/vectorstore"
)

type itemStats struct {
	id        string
	path      string
	nearest   float64
	frequency int
	sum       float64
	max       float64
}

// rank aggregates oversampled hits by catalog item and orders the items by
// frequency, then average similarity, then catalog item id. The result is
// truncated to topK and numbered from 1.
func rank(hits []vectorstore.Hit, topK int) []Recommendation {
	byItem := make(map[string]*itemStats)
	for _, h := range hits {
		dist := float64(h.Distance)
		sim := 1 - dist
		s, ok := byItem[h.CatalogItemID]
		if !ok {
			s = &itemStats{id: h.CatalogItemID, path: h.CatalogPath, nearest: dist, max: sim}
			byItem[h.CatalogItemID] = s
		}
		s.frequency++
		s.sum += sim
		if sim > s.max {
			s.max = sim
		}
		if dist < s.nearest {
			s.nearest = dist
			s.path = h.CatalogPath
		}
	}

	items := make([]*itemStats, 0, len(byItem))
	for _, s := range byItem {
		items = append(items, s)
	}
	slices.SortFunc(items, func(a, b *itemStats) int {
		if c := cmp.Compare(b.frequency, a.frequency); c != 0 {
			return c
		}
		if c := cmp.Compare(b.avg(), a.avg()); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	if len(items) > topK {
		items = items[:topK]
	}
	recs := make([]Recommendation, 0, len(items))
	for i, s := range items {
		recs = append(recs, Recommendation{
			Rank:           i + 1,
			CatalogItemID:  s.id,
			CatalogPath:    s.path,
			RelevanceScore: s.avg(),
			Frequency:      s.frequency,
			MaxScore:       s.max,
		})
	}
	return recs
}

func (s *itemStats) avg() float64 {
	return s.sum / float64(s.frequency)
}
