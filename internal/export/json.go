// Package export writes human-inspectable debug companions of the binary
// artifacts.
package export

import (
	"encoding/json"
	"io"

	"raptorc/internal/network"
	"raptorc/pkg/raptorbin"
)

const (
	RoutesJSONFileName = "routes.json"
	StopsJSONFileName  = "stops.json"
	IndexJSONFileName  = "index.json"
)

type jsonTrip struct {
	ID     uint32  `json:"trip_id"`
	FeedID string  `json:"trip_id_feed"`
	Times  []int64 `json:"times"`
}

type jsonRoute struct {
	ID        uint32     `json:"route_id"`
	FeedID    string     `json:"route_id_feed"`
	Name      string     `json:"name"`
	StopIDs   []uint32   `json:"stop_ids"`
	TripCount int        `json:"trip_count"`
	Trips     []jsonTrip `json:"trips"`
}

type jsonStop struct {
	ID        uint32               `json:"stop_id"`
	FeedID    string               `json:"stop_id_feed"`
	Name      string               `json:"name"`
	Lat       float64              `json:"lat"`
	Lon       float64              `json:"lon"`
	RouteIDs  []uint32             `json:"route_ids"`
	Transfers []raptorbin.Transfer `json:"transfers"`
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RoutesJSON writes routes in file order with trips in encoded order.
func RoutesJSON(w io.Writer, n *network.Network) error {
	out := make([]jsonRoute, 0, len(n.Routes))
	for _, r := range n.Routes {
		jr := jsonRoute{
			ID:        r.ID,
			FeedID:    n.RouteSources[r.ID],
			Name:      r.Name,
			StopIDs:   r.StopIDs,
			TripCount: len(r.Trips),
		}
		for _, t := range raptorbin.SortTrips(r.Trips) {
			jr.Trips = append(jr.Trips, jsonTrip{ID: t.ID, FeedID: n.TripSources[t.ID], Times: t.Times})
		}
		out = append(out, jr)
	}
	return encodeJSON(w, out)
}

func StopsJSON(w io.Writer, n *network.Network) error {
	out := make([]jsonStop, 0, len(n.Stops))
	for _, s := range n.Stops {
		transfers := s.Transfers
		if transfers == nil {
			transfers = []raptorbin.Transfer{}
		}
		out = append(out, jsonStop{
			ID:        s.ID,
			FeedID:    n.StopSources[s.ID],
			Name:      s.Name,
			Lat:       s.Lat,
			Lon:       s.Lon,
			RouteIDs:  s.RouteIDs,
			Transfers: transfers,
		})
	}
	return encodeJSON(w, out)
}

func IndexJSON(w io.Writer, idx *raptorbin.Index) error {
	return encodeJSON(w, idx)
}
