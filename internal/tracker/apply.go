package tracker

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/directions"
	"github.com/ukydev/fleet-delivery/internal/geo"
	"github.com/ukydev/fleet-delivery/internal/models"
	"github.com/ukydev/fleet-delivery/internal/protocol"
	"github.com/ukydev/fleet-delivery/internal/transport"
)

// Reconcile scans history oldest first. Every leg that was started and never
// ended becomes an in-flight candidate awaiting a live position signal. Only
// the last HistoryCount entries are considered. It returns the number of
// candidates added.
func (s *Synchronizer) Reconcile(history []transport.Envelope) int {
	if len(history) > s.opts.HistoryCount {
		history = history[len(history)-s.opts.HistoryCount:]
	}

	started := make(map[string]Candidate)
	var order []string
	closed := make(map[string]bool)
	for _, env := range history {
		ev, err := protocol.DecodeMessage(env.Payload)
		if err != nil {
			log.WithError(err).WithField("timetoken", env.Timetoken).Debug("Skipping malformed history entry")
			continue
		}
		switch e := ev.(type) {
		case protocol.StartLeg:
			if _, seen := started[e.LegID]; seen {
				continue
			}
			started[e.LegID] = Candidate{
				VehicleID:   env.Publisher,
				LegID:       e.LegID,
				Channel:     env.Channel,
				VehicleName: e.VehicleName,
				SensorName:  e.SensorName,
				SensorType:  e.SensorType,
				Route:       e.Route,
				Remaining:   e.RemainingDeliveries,
			}
			order = append(order, e.LegID)
		case protocol.EndLeg:
			closed[e.LegID] = true
		}
	}

	now := s.opts.Now()
	added := 0
	for _, legID := range order {
		if closed[legID] {
			continue
		}
		c := started[legID]
		c.AddedAt = now
		s.state.candidates = append(s.state.candidates, c)
		added++
	}
	if added > 0 {
		s.state.changed()
	}
	return added
}

// HandleMessage applies a leg lifecycle or notice message.
func (s *Synchronizer) HandleMessage(env transport.Envelope) {
	ev, err := protocol.DecodeMessage(env.Payload)
	if err != nil {
		log.WithError(err).WithField("publisher", env.Publisher).Debug("Ignoring malformed message")
		return
	}
	switch e := ev.(type) {
	case protocol.StartLeg:
		s.startLeg(env, e)
	case protocol.EndLeg:
		s.endLeg(env.Publisher, e)
	case protocol.AddInfoWindow:
		s.addNotice(env.Publisher, e.Data)
	case protocol.Unrecognized:
		log.WithFields(log.Fields{"publisher": env.Publisher, "state": e.Tag}).Debug("Ignoring unrecognized message")
	}
}

func (s *Synchronizer) startLeg(env transport.Envelope, e protocol.StartLeg) {
	now := s.opts.Now()
	id := env.Publisher

	// a live start supersedes anything reconstructed from history
	s.state.dropCandidates(func(c Candidate) bool { return c.VehicleID == id })

	v, ok := s.state.vehicles[id]
	if !ok {
		v = &models.Vehicle{
			ID:     id,
			Name:   e.VehicleName,
			Online: true,
			Sensor: models.Sensor{
				Name:  models.LookupName(models.SensorNames, e.SensorName),
				Type:  models.LookupName(models.SensorTypes, e.SensorType),
				Units: models.SensorUnits,
			},
			LocallyOriginated: env.Channel == s.opts.Channel,
		}
		s.state.vehicles[id] = v
		log.WithFields(log.Fields{"vehicle_id": id, "vehicle": e.VehicleName}).Info("Tracking new vehicle")
	}
	v.LastSeen = now

	if v.HasActiveRoute() {
		log.WithFields(log.Fields{"vehicle_id": id, "leg_id": e.LegID}).Debug("Ignoring duplicate start of leg")
		return
	}
	s.beginLeg(v, e.LegID, e.Route, e.Coordinate(), e.RemainingDeliveries)
}

// beginLeg installs route as the vehicle's active leg.
func (s *Synchronizer) beginLeg(v *models.Vehicle, legID string, route models.Route, pos models.Coordinate, remaining int) {
	v.RouteInfo = &models.RouteInfo{LegID: legID, Route: route, Progress: 0}
	v.Position = pos
	v.Delivery.RemainingDeliveries = remaining
	v.Delivery.ETA = FormatETA(RemainingTime(v.RouteInfo, s.opts.TickInterval))
	v.Delivery.NextDelivery = ""
	if dest, ok := route.Destination(); ok {
		v.Delivery.NextDelivery = directions.FallbackAddress(dest)
		s.resolveAddress(v.ID, legID, dest)
	}
	s.state.changed()
}

func (s *Synchronizer) endLeg(id string, e protocol.EndLeg) {
	s.state.dropCandidates(func(c Candidate) bool { return c.LegID == e.LegID })

	v, ok := s.state.vehicles[id]
	if !ok {
		log.WithField("vehicle_id", id).Debug("End of leg for unknown vehicle")
		return
	}
	v.LastSeen = s.opts.Now()
	v.RouteInfo = nil
	v.Delivery.ETA = ""
	v.Delivery.NextDelivery = ""
	if e.RouteFinished {
		delete(s.state.vehicles, id)
		log.WithField("vehicle_id", id).Info("Route finished, vehicle removed")
		// Only this dashboard's own vehicles are under its control.
		if v.LocallyOriginated {
			s.stopVehicle(id)
		}
	}
	s.state.changed()
}

func (s *Synchronizer) addNotice(vehicleID, text string) {
	st := s.state
	st.nextNotice++
	n := Notice{
		ID:        st.nextNotice,
		VehicleID: vehicleID,
		Text:      text,
		ExpiresAt: s.opts.Now().Add(s.opts.NoticeTTL),
	}
	st.notices[n.ID] = n
	st.changed()
	s.scheduler.After(s.opts.NoticeTTL, func() {
		s.enqueue(func() { s.expireNotice(n.ID) })
	})
}

func (s *Synchronizer) expireNotice(id uint64) {
	if _, ok := s.state.notices[id]; !ok {
		return
	}
	delete(s.state.notices, id)
	s.state.changed()
}

// HandleSignal applies a position or sensor signal.
func (s *Synchronizer) HandleSignal(env transport.Envelope) {
	ev, err := protocol.DecodeSignal(env.Payload)
	if err != nil {
		log.WithError(err).WithField("publisher", env.Publisher).Debug("Ignoring malformed signal")
		return
	}
	switch e := ev.(type) {
	case protocol.Position:
		s.promote(env.Publisher)
		v, ok := s.state.vehicles[env.Publisher]
		if !ok {
			log.WithField("vehicle_id", env.Publisher).Debug("Position for unknown vehicle")
			return
		}
		v.LastSeen = s.opts.Now()
		v.Position = e.Coordinate()
		if v.RouteInfo != nil {
			v.RouteInfo.Progress = e.Tick
			v.Delivery.ETA = FormatETA(RemainingTime(v.RouteInfo, s.opts.TickInterval))
		}
		s.state.changed()
	case protocol.Sensor:
		v, ok := s.state.vehicles[env.Publisher]
		if !ok {
			log.WithField("vehicle_id", env.Publisher).Debug("Sensor reading for unknown vehicle")
			return
		}
		now := s.opts.Now()
		v.LastSeen = now
		v.Sensor.Value = geo.Round(e.Value, 2)
		v.Sensor.LastUpdate = now
		s.state.changed()
	case protocol.Unrecognized:
		log.WithFields(log.Fields{"publisher": env.Publisher, "t": e.Tag}).Debug("Ignoring unrecognized signal")
	}
}

// promote turns the oldest in-flight candidate for id into a tracked vehicle.
// Other candidates for the same vehicle are discarded.
func (s *Synchronizer) promote(id string) {
	i := s.state.candidateFor(id)
	if i < 0 {
		return
	}
	c := s.state.candidates[i]
	s.state.dropCandidates(func(other Candidate) bool { return other.VehicleID == id })
	s.state.changed()

	v, ok := s.state.vehicles[id]
	if !ok {
		v = &models.Vehicle{
			ID:     id,
			Name:   c.VehicleName,
			Online: true,
			Sensor: models.Sensor{
				Name:  models.LookupName(models.SensorNames, c.SensorName),
				Type:  models.LookupName(models.SensorTypes, c.SensorType),
				Units: models.SensorUnits,
			},
			LocallyOriginated: true,
		}
		s.state.vehicles[id] = v
	}
	if v.HasActiveRoute() {
		return
	}
	start := models.Coordinate{}
	if len(c.Route) > 0 {
		start = c.Route[0].Coordinate
	}
	s.beginLeg(v, c.LegID, c.Route, start, c.Remaining)
	log.WithFields(log.Fields{"vehicle_id": id, "leg_id": c.LegID}).Info("Recovered delivery in progress")
}

// HandlePresence updates the online flag of a known vehicle.
func (s *Synchronizer) HandlePresence(ev transport.PresenceEvent) {
	v, ok := s.state.vehicles[ev.UUID]
	if !ok {
		return
	}
	online := ev.Online()
	if online {
		v.LastSeen = s.opts.Now()
	}
	if v.Online != online {
		v.Online = online
		s.state.changed()
	}
}

// Sweep evicts vehicles and candidates that have not been heard from within
// StaleAfter of now. It returns the number of vehicles evicted.
func (s *Synchronizer) Sweep(now time.Time) int {
	if s.opts.StaleAfter <= 0 {
		return 0
	}
	cutoff := now.Add(-s.opts.StaleAfter)
	evicted := 0
	for id, v := range s.state.vehicles {
		if v.LastSeen.Before(cutoff) {
			delete(s.state.vehicles, id)
			evicted++
			log.WithFields(log.Fields{"vehicle_id": id, "last_seen": v.LastSeen}).Info("Evicting silent vehicle")
		}
	}
	dropped := s.state.dropCandidates(func(c Candidate) bool { return c.AddedAt.Before(cutoff) })
	if evicted > 0 || dropped > 0 {
		s.state.changed()
	}
	return evicted
}
