package vectorstore

import (
	"cmp"
	"slices"
)

// ParamsForAccuracy maps a target recall percentage to HNSW parameters.
// Higher targets trade build time and memory for recall.
func ParamsForAccuracy(targetAccuracy float64) (IndexParams, error) {
	if !(targetAccuracy > 0 && targetAccuracy <= 100) {
		return IndexParams{}, ErrInvalidAccuracy
	}

	p := IndexParams{TargetAccuracy: targetAccuracy}
	switch {
	case targetAccuracy >= 99:
		p.M, p.EfConstruction, p.EfSearch = 32, 400, 256
	case targetAccuracy >= 95:
		p.M, p.EfConstruction, p.EfSearch = 16, 200, 128
	case targetAccuracy >= 90:
		p.M, p.EfConstruction, p.EfSearch = 16, 128, 64
	default:
		p.M, p.EfConstruction, p.EfSearch = 8, 64, 32
	}
	return p, nil
}

// sortHits orders hits by ascending distance, then case id.
func sortHits(hits []Hit) {
	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.CaseID, b.CaseID)
	})
}
