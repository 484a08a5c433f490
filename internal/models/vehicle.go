package models

import "time"

// SensorUnits is the unit reported by every built-in sensor model.
const SensorUnits = "°c"

// VehicleNames are the display names handed out to dispatched vehicles.
var VehicleNames = []string{
	"Van 1", "Van 2", "Truck 14", "Courier 7", "Reefer 3",
	"Box Truck 9", "Cargo Bike 2", "Sprinter 5",
}

// SensorNames are indexed by the sensorName field of a StartLeg message.
var SensorNames = []string{"Cargo Hold", "Freezer Unit", "Chiller Unit"}

// SensorTypes are indexed by the sensorType field of a StartLeg message.
var SensorTypes = []string{"Refrigerated", "Frozen"}

// LookupName returns names[i], or "Unknown" when i is out of range.
func LookupName(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return "Unknown"
	}
	return names[i]
}

// Sensor is the single cargo sensor carried by a vehicle.
type Sensor struct {
	Name       string    `bson:"name" json:"name"`
	Type       string    `bson:"type" json:"type"`
	Units      string    `bson:"units" json:"units"`
	Value      float64   `bson:"value" json:"value"`
	LastUpdate time.Time `bson:"last_update,omitempty" json:"last_update,omitempty"`
}

// DeliveryInfo holds the display fields for the delivery in progress.
type DeliveryInfo struct {
	NextDelivery        string `bson:"next_delivery" json:"next_delivery"`
	ETA                 string `bson:"eta" json:"eta"`
	RemainingDeliveries int    `bson:"remaining_deliveries" json:"remaining_deliveries"`
}

// RouteInfo is the active leg and how many of its waypoints have been consumed.
type RouteInfo struct {
	LegID    string `bson:"leg_id" json:"leg_id"`
	Route    Route  `bson:"-" json:"route"`
	Progress int    `bson:"progress" json:"progress"`
}

// Vehicle is a dashboard's view of one simulated delivery vehicle.
type Vehicle struct {
	ID                string       `bson:"_id" json:"id"`
	Name              string       `bson:"name" json:"name"`
	Online            bool         `bson:"online" json:"online"`
	Selected          bool         `bson:"selected" json:"selected"`
	LocallyOriginated bool         `bson:"locally_originated" json:"locally_originated"`
	Position          Coordinate   `bson:"position" json:"position"`
	Sensor            Sensor       `bson:"sensor" json:"sensor"`
	Delivery          DeliveryInfo `bson:"delivery" json:"delivery"`
	RouteInfo         *RouteInfo   `bson:"route_info,omitempty" json:"route_info,omitempty"`
	LastSeen          time.Time    `bson:"last_seen" json:"last_seen"`
}

// HasActiveRoute reports whether the vehicle is currently on a leg.
func (v *Vehicle) HasActiveRoute() bool {
	return v.RouteInfo != nil && len(v.RouteInfo.Route) > 0
}
