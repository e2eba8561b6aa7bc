package pipeline

import (
	"sort"

	"market-scanner/internal/model"
)

// Select returns the candidates worth a judgment: those scoring at least
// gate, highest first, at most max of them. Ties keep input order.
func Select(cands []model.Candidate, gate, max int) []model.Candidate {
	if max <= 0 {
		return nil
	}
	eligible := make([]model.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Score >= gate {
			eligible = append(eligible, c)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].Score > eligible[j].Score })
	if len(eligible) > max {
		eligible = eligible[:max]
	}
	return eligible
}
