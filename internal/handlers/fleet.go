package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/dispatch"
	"github.com/ukydev/fleet-delivery/internal/models"
	"github.com/ukydev/fleet-delivery/internal/tracker"
)

// FleetState is the dashboard's view of the fleet.
type FleetState interface {
	Snapshot(ctx context.Context) (tracker.Snapshot, error)
	Select(ctx context.Context, id string) error
}

// FleetController starts vehicles and sends them commands.
type FleetController interface {
	Dispatch(ctx context.Context, origin models.Coordinate) (dispatch.Dispatched, error)
	Reroute(ctx context.Context, id string, from models.Coordinate) error
	Reboot(ctx context.Context, id string) error
	PushMessage(ctx context.Context, id, text string) error
	StopVehicle(ctx context.Context, id string) error
}

// FleetHandler serves the vehicle table, dispatch and vehicle commands
type FleetHandler struct {
	state   FleetState
	control FleetController
	origin  models.Coordinate
	stream  StreamOptions
}

// NewFleetHandler creates a fleet handler. origin is used for dispatch
// requests that do not name a location.
func NewFleetHandler(state FleetState, control FleetController, origin models.Coordinate, stream StreamOptions) *FleetHandler {
	return &FleetHandler{
		state:   state,
		control: control,
		origin:  origin,
		stream:  stream.withDefaults(),
	}
}

// Health reports liveness
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Vehicles returns every tracked vehicle, the deliveries awaiting confirmation
// and the active notices
func (h *FleetHandler) Vehicles(w http.ResponseWriter, r *http.Request) {
	snap, err := h.state.Snapshot(r.Context())
	if err != nil {
		log.WithError(err).Error("Failed to read fleet state")
		http.Error(w, "Fleet state unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Vehicle returns one tracked vehicle
func (h *FleetHandler) Vehicle(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type dispatchRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// Dispatch starts a new vehicle near the requested location
func (h *FleetHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	origin := h.origin
	if len(body) > 0 {
		var req dispatchRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if (req.Lat == nil) != (req.Lng == nil) {
			http.Error(w, "lat and lng must be given together", http.StatusBadRequest)
			return
		}
		if req.Lat != nil {
			origin = models.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
		}
	}
	if !origin.Valid() {
		http.Error(w, "Invalid location", http.StatusBadRequest)
		return
	}

	out, err := h.control.Dispatch(r.Context(), origin)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, out)
	case errors.Is(err, dispatch.ErrCoolingDown):
		w.Header().Set("Retry-After", strconv.Itoa(int(dispatch.DefaultCooldown.Seconds())))
		http.Error(w, "Dispatch is cooling down", http.StatusTooManyRequests)
	case errors.Is(err, dispatch.ErrTooManyVehicles):
		http.Error(w, "Too many active vehicles", http.StatusConflict)
	default:
		log.WithError(err).WithField("origin", origin).Error("Dispatch failed")
		http.Error(w, "Dispatch failed", http.StatusInternalServerError)
	}
}

type messageRequest struct {
	Text string `json:"text"`
}

// Command sends a control command to one vehicle
func (h *FleetHandler) Command(w http.ResponseWriter, r *http.Request) {
	v, ok := h.lookup(w, r)
	if !ok {
		return
	}
	action := r.PathValue("action")
	ctx := r.Context()

	var err error
	switch action {
	case "reboot":
		err = h.control.Reboot(ctx, v.ID)
	case "stop":
		err = h.control.StopVehicle(ctx, v.ID)
	case "reroute":
		err = h.control.Reroute(ctx, v.ID, v.Position)
	case "message":
		var req messageRequest
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		err = h.control.PushMessage(ctx, v.ID, req.Text)
	case "select":
		err = h.state.Select(ctx, v.ID)
	default:
		http.Error(w, "Unknown action", http.StatusNotFound)
		return
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent", "action": action, "vehicle_id": v.ID})
	case errors.Is(err, dispatch.ErrEmptyMessage):
		http.Error(w, "Message text is required", http.StatusBadRequest)
	case errors.Is(err, dispatch.ErrNoRoute):
		http.Error(w, "Could not find sensible route", http.StatusUnprocessableEntity)
	case errors.Is(err, tracker.ErrUnknownVehicle), errors.Is(err, dispatch.ErrUnknownVehicle):
		http.Error(w, "Vehicle not found", http.StatusNotFound)
	default:
		log.WithError(err).WithFields(log.Fields{"vehicle_id": v.ID, "action": action}).Error("Command failed")
		http.Error(w, "Command failed", http.StatusBadGateway)
	}
}

func (h *FleetHandler) lookup(w http.ResponseWriter, r *http.Request) (models.Vehicle, bool) {
	snap, err := h.state.Snapshot(r.Context())
	if err != nil {
		log.WithError(err).Error("Failed to read fleet state")
		http.Error(w, "Fleet state unavailable", http.StatusServiceUnavailable)
		return models.Vehicle{}, false
	}
	v, ok := snap.Vehicle(r.PathValue("id"))
	if !ok {
		http.Error(w, "Vehicle not found", http.StatusNotFound)
		return models.Vehicle{}, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("Failed to write response")
	}
}
