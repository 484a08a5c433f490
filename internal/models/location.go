package models

// Coordinate represents a geographical location with latitude and longitude coordinates.
type Coordinate struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
}

// Valid reports whether c lies within the usual latitude and longitude bounds.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}
