// README: Common value types shared across modules.
package types

// ID identifies a trip, order, rider, or customer.
type ID string

// LatLng is a geographic point in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
