package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raptorc/internal/domain"
	"raptorc/internal/issues"
	"raptorc/internal/transfer"
	"raptorc/pkg/raptorbin"
)

func testModel() *domain.Model {
	return &domain.Model{
		Stops: []domain.Stop{
			{ID: 0, SourceID: "A", Name: "A", Lat: 45.0, Lon: 4.0},
			{ID: 1, SourceID: "B", Name: "B", Lat: 45.001, Lon: 4.0},
			{ID: 2, SourceID: "C", Name: "C", Lat: 45.002, Lon: 4.0},
			{ID: 3, SourceID: "D", Name: "D", Lat: 45.003, Lon: 4.0},
		},
		Routes: []domain.RoutePattern{
			{ID: 5, SourceID: "L2", Name: "L2", StopIDs: []uint32{2, 1}},
			{ID: 4, SourceID: "L1", Name: "L1", StopIDs: []uint32{0, 1, 2}},
		},
		Trips: []domain.Trip{
			{ID: 10, SourceID: "t10", RouteID: 4, ServiceID: "WK", Times: []int64{100, 200, 300}},
			{ID: 11, SourceID: "t11", RouteID: 5, ServiceID: "SA", Times: []int64{100, 200}},
			{ID: 12, SourceID: "t12", RouteID: 4, ServiceID: "WK", Times: []int64{50, 150, 250}},
			{ID: 13, SourceID: "t13", RouteID: 5, ServiceID: "WK", Times: []int64{400, 500}},
		},
	}
}

func TestScopeOf(t *testing.T) {
	model := testModel()
	scope := ScopeOf(model, domain.Cohort{Name: "saturday", ServiceIDs: []string{"SA"}})

	assert.Equal(t, map[uint32]bool{11: true}, scope.Trips)
	assert.Equal(t, map[uint32]bool{5: true}, scope.Routes)
	assert.Equal(t, map[uint32]bool{1: true, 2: true}, scope.Stops)

	assert.True(t, scope.Covers(issues.Stop(2)))
	assert.False(t, scope.Covers(issues.Stop(0)))
	assert.True(t, scope.Covers(issues.Service("SA")))
	assert.False(t, scope.Covers(issues.Trip(10)))
}

func TestBuild(t *testing.T) {
	model := testModel()
	transfers := transfer.Set{
		0: {{Target: 1, WalkTime: 90}, {Target: 3, WalkTime: 300}},
		1: {{Target: 0, WalkTime: 90}},
	}
	scope := ScopeOf(model, domain.Cohort{Name: "weekday", ServiceIDs: []string{"WK"}})

	n := Build(model, "weekday", scope, transfers)

	require.Len(t, n.Routes, 2)
	assert.Equal(t, uint32(4), n.Routes[0].ID)
	assert.Equal(t, uint32(5), n.Routes[1].ID)
	assert.Equal(t, []uint32{10, 12}, []uint32{n.Routes[0].Trips[0].ID, n.Routes[0].Trips[1].ID})
	assert.Len(t, n.Routes[1].Trips, 1)

	require.Len(t, n.Stops, 3)
	assert.Equal(t, raptorbin.Stop{
		ID: 0, Name: "A", Lat: 45.0, Lon: 4.0,
		RouteIDs:  []uint32{4},
		Transfers: []raptorbin.Transfer{{Target: 1, WalkTime: 90}},
	}, n.Stops[0])
	assert.Equal(t, []uint32{4, 5}, n.Stops[1].RouteIDs)

	assert.Equal(t, Stats{Stops: 3, Routes: 2, Trips: 3, StopTimes: 8, Transfers: 2}, n.Stats())
	assert.Equal(t, "t12", n.TripSources[12])

	// model untouched
	assert.Empty(t, model.Stops[0].Transfers)
	assert.Equal(t, uint32(5), model.Routes[0].ID)
}

func TestBuildEmptyScope(t *testing.T) {
	model := testModel()
	scope := ScopeOf(model, domain.Cohort{Name: "sunday", ServiceIDs: []string{"SU"}})
	assert.True(t, scope.Empty())
	n := Build(model, "sunday", scope, nil)
	assert.Empty(t, n.Routes)
	assert.Empty(t, n.Stops)
}
