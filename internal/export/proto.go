package export

import (
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"raptorc/internal/network"
	"raptorc/pkg/raptorbin"
)

const (
	ProtoFileName  = "network.pb"
	SchemaFileName = "raptor.proto"
)

// schema describes network.pb. Repeated scalars are packed.
const schema = `syntax = "proto3";

package raptor;

message Network {
  string cohort = 1;
  repeated Route routes = 2;
  repeated Stop stops = 3;
}

message Route {
  uint32 id = 1;
  string name = 2;
  repeated uint32 stop_ids = 3;
  repeated Trip trips = 4;
  string feed_id = 5;
}

message Trip {
  uint32 id = 1;
  repeated sint64 times = 2;
  string feed_id = 3;
}

message Stop {
  uint32 id = 1;
  string name = 2;
  double lat = 3;
  double lon = 4;
  repeated uint32 route_ids = 5;
  repeated Transfer transfers = 6;
  string feed_id = 7;
}

message Transfer {
  uint32 target = 1;
  int32 walk_time = 2;
}
`

// Schema writes the .proto definition of the Proto output.
func Schema(w io.Writer) error {
	_, err := io.WriteString(w, schema)
	return err
}

// Proto writes the cohort network as a single Network message.
func Proto(w io.Writer, n *network.Network) error {
	var b []byte
	b = appendString(b, 1, n.Cohort)
	for _, r := range n.Routes {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRoute(r, n))
	}
	for _, s := range n.Stops {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalStop(s, n))
	}
	_, err := w.Write(b)
	return err
}

func marshalRoute(r raptorbin.Route, n *network.Network) []byte {
	var b []byte
	b = appendUint(b, 1, uint64(r.ID))
	b = appendString(b, 2, r.Name)
	b = appendPackedUint32(b, 3, r.StopIDs)
	for _, t := range raptorbin.SortTrips(r.Trips) {
		var tb []byte
		tb = appendUint(tb, 1, uint64(t.ID))
		if len(t.Times) > 0 {
			var packed []byte
			for _, v := range t.Times {
				packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(v))
			}
			tb = protowire.AppendTag(tb, 2, protowire.BytesType)
			tb = protowire.AppendBytes(tb, packed)
		}
		tb = appendString(tb, 3, n.TripSources[t.ID])

		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, tb)
	}
	return appendString(b, 5, n.RouteSources[r.ID])
}

func marshalStop(s raptorbin.Stop, n *network.Network) []byte {
	var b []byte
	b = appendUint(b, 1, uint64(s.ID))
	b = appendString(b, 2, s.Name)
	b = protowire.AppendTag(b, 3, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.Lat))
	b = protowire.AppendTag(b, 4, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.Lon))
	b = appendPackedUint32(b, 5, s.RouteIDs)
	for _, t := range s.Transfers {
		var tb []byte
		tb = appendUint(tb, 1, uint64(t.Target))
		if t.WalkTime != 0 {
			tb = protowire.AppendTag(tb, 2, protowire.VarintType)
			tb = protowire.AppendVarint(tb, uint64(int64(t.WalkTime)))
		}
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, tb)
	}
	return appendString(b, 7, n.StopSources[s.ID])
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendPackedUint32(b []byte, num protowire.Number, vs []uint32) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// ProtoNetwork is the decoded form of network.pb.
type ProtoNetwork struct {
	Cohort string
	Routes []raptorbin.Route
	Stops  []raptorbin.Stop
}

var errMalformed = errors.New("malformed protobuf")

// DecodeProto parses a network.pb payload. Feed ids are skipped.
func DecodeProto(b []byte) (*ProtoNetwork, error) {
	out := &ProtoNetwork{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		switch num {
		case 1:
			out.Cohort = string(payload)
		case 2:
			r, err := decodeRoute(payload)
			if err != nil {
				return err
			}
			out.Routes = append(out.Routes, r)
		case 3:
			s, err := decodeStop(payload)
			if err != nil {
				return err
			}
			out.Stops = append(out.Stops, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeRoute(b []byte) (raptorbin.Route, error) {
	var r raptorbin.Route
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		switch num {
		case 1:
			r.ID = uint32(v)
		case 2:
			r.Name = string(payload)
		case 3:
			ids, err := unpackUint32(payload)
			if err != nil {
				return err
			}
			r.StopIDs = ids
		case 4:
			var t raptorbin.Trip
			err := walk(payload, func(num protowire.Number, typ protowire.Type, v uint64, p []byte) error {
				switch num {
				case 1:
					t.ID = uint32(v)
				case 2:
					for len(p) > 0 {
						x, n := protowire.ConsumeVarint(p)
						if n < 0 {
							return protowire.ParseError(n)
						}
						t.Times = append(t.Times, protowire.DecodeZigZag(x))
						p = p[n:]
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			r.Trips = append(r.Trips, t)
		}
		return nil
	})
	return r, err
}

func decodeStop(b []byte) (raptorbin.Stop, error) {
	var s raptorbin.Stop
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error {
		switch num {
		case 1:
			s.ID = uint32(v)
		case 2:
			s.Name = string(payload)
		case 3:
			s.Lat = math.Float64frombits(v)
		case 4:
			s.Lon = math.Float64frombits(v)
		case 5:
			ids, err := unpackUint32(payload)
			if err != nil {
				return err
			}
			s.RouteIDs = ids
		case 6:
			var t raptorbin.Transfer
			err := walk(payload, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
				switch num {
				case 1:
					t.Target = uint32(v)
				case 2:
					t.WalkTime = int32(int64(v))
				}
				return nil
			})
			if err != nil {
				return err
			}
			s.Transfers = append(s.Transfers, t)
		}
		return nil
	})
	return s, err
}

func unpackUint32(p []byte) ([]uint32, error) {
	var out []uint32
	for len(p) > 0 {
		x, n := protowire.ConsumeVarint(p)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, uint32(x))
		p = p[n:]
	}
	return out, nil
}

// walk calls fn for every field of a message. Varint and fixed64 values are
// passed in v, length-delimited contents in payload.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, payload []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		var v uint64
		var payload []byte
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			payload, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", errMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(num, typ, v, payload); err != nil {
			return err
		}
	}
	return nil
}
