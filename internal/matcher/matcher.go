// Package matcher ranks nearby washers for a wash request.
package matcher

import (
	"context"
	"sort"

	"github.com/example/wash-hup/internal/eta"
	"github.com/example/wash-hup/internal/models"
)

// Candidate is an available washer found by the proximity index.
type Candidate struct {
	Washer     models.WasherProfile
	Position   models.Coord
	DistanceKm float64
}

type Ranker struct {
	ETA *eta.Estimator
	// RatingWeight is the cost in seconds of one missing rating star.
	RatingWeight float64
	TopN         int
}

// Rank orders candidates by cost = eta + RatingWeight*(5 - rating).
func (r *Ranker) Rank(ctx context.Context, origin models.Coord, cands []Candidate) []models.ProfileSummary {
	type scored struct {
		s    models.ProfileSummary
		cost float64
	}
	est := r.ETA
	if est == nil {
		est = &eta.Estimator{}
	}
	list := make([]scored, 0, len(cands))
	for _, c := range cands {
		etaSec := est.Seconds(ctx, c.Position, origin)
		s := c.Washer.Summary(c.DistanceKm)
		s.EtaSeconds = etaSec
		list = append(list, scored{s: s, cost: etaSec + r.RatingWeight*(5.0-c.Washer.Rating)})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].cost < list[j].cost })

	n := len(list)
	if r.TopN > 0 && n > r.TopN {
		n = r.TopN
	}
	out := make([]models.ProfileSummary, 0, n)
	for _, sc := range list[:n] {
		out = append(out, sc.s)
	}
	return out
}
