package matcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wash-hup/internal/models"
)

func washer(id string, rating float64) models.WasherProfile {
	return models.WasherProfile{ProfileBase: models.ProfileBase{ID: id, Role: models.RoleWasher}, Rating: rating}
}

func TestChooseHigherRatingIfETAEqual(t *testing.T) {
	origin := models.Coord{Lat: 0, Lon: 0}
	r := &Ranker{RatingWeight: 30}
	got := r.Rank(context.Background(), origin, []Candidate{
		{Washer: washer("A", 4.0), Position: origin},
		{Washer: washer("B", 5.0), Position: origin},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].ID)
}

func TestCloserWinsAtEqualRating(t *testing.T) {
	origin := models.Coord{Lat: 6.5, Lon: 3.3}
	r := &Ranker{RatingWeight: 30}
	got := r.Rank(context.Background(), origin, []Candidate{
		{Washer: washer("far", 4.5), Position: models.Coord{Lat: 6.53, Lon: 3.3}, DistanceKm: 3.3},
		{Washer: washer("near", 4.5), Position: models.Coord{Lat: 6.505, Lon: 3.3}, DistanceKm: 0.5},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, 0.5, got[0].DistanceKm)
	assert.Greater(t, got[0].EtaSeconds, 0.0)
}

func TestTopN(t *testing.T) {
	r := &Ranker{TopN: 1}
	got := r.Rank(context.Background(), models.Coord{}, []Candidate{
		{Washer: washer("A", 3)}, {Washer: washer("B", 4)},
	})
	assert.Len(t, got, 1)
	assert.Empty(t, r.Rank(context.Background(), models.Coord{}, nil))
}
