package tracker

import (
	"sort"
	"time"

	"github.com/ukydev/fleet-delivery/internal/models"
)

// Candidate is a delivery seen starting in history but not yet confirmed live.
type Candidate struct {
	VehicleID   string       `json:"vehicle_id"`
	LegID       string       `json:"leg_id"`
	Channel     string       `json:"channel"`
	VehicleName string       `json:"vehicle_name"`
	SensorName  int          `json:"sensor_name"`
	SensorType  int          `json:"sensor_type"`
	Route       models.Route `json:"route"`
	Remaining   int          `json:"remaining_deliveries"`
	AddedAt     time.Time    `json:"added_at"`
}

// Notice is a transient text shown beside a vehicle.
type Notice struct {
	ID        uint64    `json:"id"`
	VehicleID string    `json:"vehicle_id"`
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expires_at"`
}

// State is the dashboard's view of the fleet. It has a single writer: the
// synchronizer's event loop.
type State struct {
	vehicles   map[string]*models.Vehicle
	candidates []Candidate
	notices    map[uint64]Notice
	nextNotice uint64
	version    uint64
}

func newState() *State {
	return &State{
		vehicles: make(map[string]*models.Vehicle),
		notices:  make(map[uint64]Notice),
	}
}

// changed marks the state as modified.
func (st *State) changed() { st.version++ }

// candidateFor returns the index of the oldest candidate for vehicleID, or -1.
func (st *State) candidateFor(vehicleID string) int {
	for i, c := range st.candidates {
		if c.VehicleID == vehicleID {
			return i
		}
	}
	return -1
}

// dropCandidates removes every candidate for which match returns true.
func (st *State) dropCandidates(match func(Candidate) bool) int {
	kept := st.candidates[:0]
	dropped := 0
	for _, c := range st.candidates {
		if match(c) {
			dropped++
			continue
		}
		kept = append(kept, c)
	}
	st.candidates = kept
	return dropped
}

// Snapshot is a read-only copy of the state.
type Snapshot struct {
	Version  uint64           `json:"version"`
	Vehicles []models.Vehicle `json:"vehicles"`
	InFlight []Candidate      `json:"in_flight"`
	Notices  []Notice         `json:"notices"`
}

func (st *State) snapshot() Snapshot {
	snap := Snapshot{
		Version:  st.version,
		Vehicles: make([]models.Vehicle, 0, len(st.vehicles)),
		InFlight: append([]Candidate(nil), st.candidates...),
		Notices:  make([]Notice, 0, len(st.notices)),
	}
	for _, v := range st.vehicles {
		snap.Vehicles = append(snap.Vehicles, copyVehicle(v))
	}
	sort.Slice(snap.Vehicles, func(i, j int) bool { return snap.Vehicles[i].ID < snap.Vehicles[j].ID })
	for _, n := range st.notices {
		snap.Notices = append(snap.Notices, n)
	}
	sort.Slice(snap.Notices, func(i, j int) bool { return snap.Notices[i].ID < snap.Notices[j].ID })
	return snap
}

// copyVehicle detaches the route info. Routes themselves are never mutated
// in place so the slice can be shared.
func copyVehicle(v *models.Vehicle) models.Vehicle {
	out := *v
	if v.RouteInfo != nil {
		ri := *v.RouteInfo
		out.RouteInfo = &ri
	}
	return out
}

// Vehicle returns the vehicle with id, if present.
func (s Snapshot) Vehicle(id string) (models.Vehicle, bool) {
	for _, v := range s.Vehicles {
		if v.ID == id {
			return v, true
		}
	}
	return models.Vehicle{}, false
}
