package transfer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raptorc/internal/domain"
	"raptorc/pkg/geo"
)

func TestGenerateTwoStops(t *testing.T) {
	stops := []domain.Stop{
		{ID: 0, Name: "A", Lat: 0, Lon: 0},
		{ID: 1, Name: "B", Lat: 0, Lon: 0.01},
	}

	set, err := Generate(stops, Options{Enabled: true, WalkSpeed: 1.33, MaxDistance: 2000})
	require.NoError(t, err)

	want := int32(math.Ceil(geo.HaversineMeters(0, 0, 0, 0.01) / 1.33))
	assert.Equal(t, []domain.Transfer{{Target: 1, WalkTime: want}}, set[0])
	assert.Equal(t, []domain.Transfer{{Target: 0, WalkTime: want}}, set[1])
	assert.Equal(t, 2, set.Count())
	assert.Equal(t, int32(837), want)
}

func TestGenerateDisabled(t *testing.T) {
	set, err := Generate([]domain.Stop{{ID: 0}, {ID: 1}}, Options{Enabled: false, WalkSpeed: -1})
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestGenerateRejectsBadOptions(t *testing.T) {
	_, err := Generate(nil, Options{Enabled: true, WalkSpeed: 0, MaxDistance: 10})
	assert.ErrorIs(t, err, ErrInvalidSpeed)

	_, err = Generate(nil, Options{Enabled: true, WalkSpeed: 1, MaxDistance: -1})
	assert.ErrorIs(t, err, ErrInvalidDistance)
}

func TestGenerateZeroCutoffLinksColocatedStops(t *testing.T) {
	stops := []domain.Stop{
		{ID: 4, Lat: 45.75, Lon: 4.85},
		{ID: 7, Lat: 45.75, Lon: 4.85},
		{ID: 9, Lat: 45.76, Lon: 4.85},
	}
	set, err := Generate(stops, Options{Enabled: true, WalkSpeed: 1.33, MaxDistance: 0})
	require.NoError(t, err)
	assert.Equal(t, []domain.Transfer{{Target: 7, WalkTime: 0}}, set[4])
	assert.Empty(t, set[9])
}

func randomStops(n int, seed int64) []domain.Stop {
	rng := rand.New(rand.NewSource(seed))
	stops := make([]domain.Stop, n)
	for i := range stops {
		stops[i] = domain.Stop{
			ID:  uint32(i),
			Lat: 45.70 + rng.Float64()*0.08,
			Lon: 4.78 + rng.Float64()*0.12,
		}
	}
	return stops
}

func TestGenerateSymmetricAndSorted(t *testing.T) {
	stops := randomStops(400, 5)
	set, err := Generate(stops, Options{Enabled: true, WalkSpeed: 1.33, MaxDistance: 400})
	require.NoError(t, err)
	require.NotEmpty(t, set)

	for src, ts := range set {
		for i, tr := range ts {
			assert.NotEqual(t, src, tr.Target)
			if i > 0 {
				assert.Less(t, ts[i-1].Target, tr.Target)
			}

			var back *domain.Transfer
			for k := range set[tr.Target] {
				if set[tr.Target][k].Target == src {
					back = &set[tr.Target][k]
				}
			}
			require.NotNil(t, back, "missing %d -> %d", tr.Target, src)
			assert.Equal(t, tr.WalkTime, back.WalkTime)
		}
	}
}

func TestGridAndPairwiseAgree(t *testing.T) {
	stops := randomStops(gridThreshold+50, 9)
	opts := Options{Enabled: true, WalkSpeed: 1.1, MaxDistance: 350}

	gridSet, err := Generate(stops, opts)
	require.NoError(t, err)

	pairwise := make(Set)
	for i := range stops {
		for j := range stops {
			if i == j {
				continue
			}
			d := geo.HaversineMeters(stops[i].Lat, stops[i].Lon, stops[j].Lat, stops[j].Lon)
			if d <= opts.MaxDistance {
				pairwise[stops[i].ID] = append(pairwise[stops[i].ID], domain.Transfer{Target: stops[j].ID, WalkTime: WalkTime(d, opts.WalkSpeed)})
			}
		}
	}

	assert.Equal(t, pairwise, gridSet)
}

func TestMergeExplicitWins(t *testing.T) {
	explicit := Explicit([]domain.Stop{
		{ID: 1, Transfers: []domain.Transfer{{Target: 2, WalkTime: 120}, {Target: 1, WalkTime: 30}, {Target: 2, WalkTime: 90}}},
	})
	generated := Set{
		1: {{Target: 2, WalkTime: 400}, {Target: 3, WalkTime: 200}},
		2: {{Target: 1, WalkTime: 400}},
	}

	merged := Merge(explicit, generated)
	assert.Equal(t, []domain.Transfer{{Target: 1, WalkTime: 30}, {Target: 2, WalkTime: 90}, {Target: 3, WalkTime: 200}}, merged[1])
	assert.Equal(t, []domain.Transfer{{Target: 1, WalkTime: 400}}, merged[2])
}

func TestRestrict(t *testing.T) {
	set := Set{
		1: {{Target: 2, WalkTime: 10}, {Target: 3, WalkTime: 20}},
		3: {{Target: 1, WalkTime: 20}},
	}
	got := set.Restrict(map[uint32]bool{1: true, 2: true})
	assert.Equal(t, Set{1: {{Target: 2, WalkTime: 10}}}, got)
}
