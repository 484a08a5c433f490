package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire markers used on leg boundary waypoints.
const (
	MetaNewLeg = "NEW_LEG"
	MetaEndLeg = "END_LEG"
)

var (
	ErrEmptyRoute      = errors.New("route is empty")
	ErrMalformedLeg    = errors.New("malformed leg")
	ErrUnknownBoundary = errors.New("unknown leg boundary")
)

// LegBoundary marks the first or last waypoint of a leg. A start carries the
// number of steps in the leg (waypoint count minus one).
type LegBoundary struct {
	End       bool
	StepCount int
}

// StartOfLeg returns the marker for the first waypoint of a leg.
func StartOfLeg(stepCount int) *LegBoundary {
	return &LegBoundary{StepCount: stepCount}
}

// EndOfLeg returns the marker for the last waypoint of a leg.
func EndOfLeg() *LegBoundary {
	return &LegBoundary{End: true}
}

// MarshalJSON encodes a start as {"NEW_LEG": n} and an end as "END_LEG".
func (b LegBoundary) MarshalJSON() ([]byte, error) {
	if b.End {
		return json.Marshal(MetaEndLeg)
	}
	return json.Marshal(map[string]int{MetaNewLeg: b.StepCount})
}

// UnmarshalJSON accepts either boundary encoding.
func (b *LegBoundary) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != MetaEndLeg {
			return fmt.Errorf("%w: %q", ErrUnknownBoundary, s)
		}
		*b = LegBoundary{End: true}
		return nil
	}
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownBoundary, string(data))
	}
	n, ok := m[MetaNewLeg]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBoundary, string(data))
	}
	*b = LegBoundary{StepCount: n}
	return nil
}

// Waypoint is a coordinate on a route, optionally marking a leg boundary.
type Waypoint struct {
	Coordinate
	Meta *LegBoundary `json:"meta,omitempty"`
}

// IsStartOfLeg reports whether the waypoint opens a leg.
func (w Waypoint) IsStartOfLeg() bool { return w.Meta != nil && !w.Meta.End }

// IsEndOfLeg reports whether the waypoint closes a leg.
func (w Waypoint) IsEndOfLeg() bool { return w.Meta != nil && w.Meta.End }

// Route is an ordered sequence of waypoints spanning one or more legs back to back.
type Route []Waypoint

// LegAt returns the leg beginning at index i, including its end waypoint.
// It returns nil when i does not hold a start marker.
func (r Route) LegAt(i int) Route {
	if i < 0 || i >= len(r) || !r[i].IsStartOfLeg() {
		return nil
	}
	end := i + r[i].Meta.StepCount + 1
	if end > len(r) {
		end = len(r)
	}
	return r[i:end]
}

// RemainingLegs counts start markers from index i onward.
func (r Route) RemainingLegs(i int) int {
	if i < 0 {
		i = 0
	}
	n := 0
	for ; i < len(r); i++ {
		if r[i].IsStartOfLeg() {
			n++
		}
	}
	return n
}

// Destination is the final waypoint's coordinate.
func (r Route) Destination() (Coordinate, bool) {
	if len(r) == 0 {
		return Coordinate{}, false
	}
	return r[len(r)-1].Coordinate, true
}

// Validate checks that the route is non-empty and is made only of well-formed
// legs: a start whose step count reaches exactly one end, no markers inside.
func (r Route) Validate() error {
	if len(r) == 0 {
		return ErrEmptyRoute
	}
	for i := 0; i < len(r); {
		if !r[i].IsStartOfLeg() {
			return fmt.Errorf("%w: waypoint %d does not start a leg", ErrMalformedLeg, i)
		}
		steps := r[i].Meta.StepCount
		last := i + steps
		if steps < 1 || last >= len(r) {
			return fmt.Errorf("%w: leg at %d has %d steps but route has %d waypoints", ErrMalformedLeg, i, steps, len(r))
		}
		for j := i + 1; j < last; j++ {
			if r[j].Meta != nil {
				return fmt.Errorf("%w: unexpected marker at %d", ErrMalformedLeg, j)
			}
		}
		if !r[last].IsEndOfLeg() {
			return fmt.Errorf("%w: leg at %d does not end at %d", ErrMalformedLeg, i, last)
		}
		i = last + 1
	}
	return nil
}
