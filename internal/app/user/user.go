/*
Package user defines the profile and location record kept for every known identity.

A Record is keyed by its Username. Records are encoded as GeoJSON Point features,
both on the wire and in snapshots, so a map client can render them directly.
*/
package user

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
)

// ErrInvalidCoordinates is returned when a coordinate pair is missing, has the wrong
// arity, or falls outside longitude/latitude bounds.
var ErrInvalidCoordinates = errors.New("coordinates must be [longitude, latitude]")

// Record is the profile and geometry state of one identity.
type Record struct {
	// Username is the identity key; unique across the store.
	Username string

	Avatar string
	Bio    string

	// Age, Interests and SocialLinks are opaque to the server and stored as decoded JSON.
	Age         any
	Interests   any
	SocialLinks any

	// Coordinates holds (longitude, latitude).
	Coordinates orb.Point

	// SessionID is the handle of the attached live connection, empty while disconnected.
	SessionID string

	JoinedAt time.Time
	LastSeen time.Time
}

// New creates a record for a first-time identity with empty profile attributes.
func New(username string, now time.Time) Record {
	return Record{
		Username:    username,
		Age:         "",
		Interests:   []any{},
		SocialLinks: []any{},
		JoinedAt:    now,
		LastSeen:    now,
	}
}

// Online reports whether a live session is attached.
func (r Record) Online() bool {
	return r.SessionID != ""
}

// Patch carries the profile fields supplied by a join or update event.
// A nil field was absent from the event and leaves the record untouched.
type Patch struct {
	Avatar      *string
	Bio         *string
	Age         any
	Interests   any
	SocialLinks any
	Coordinates *orb.Point
}

// Apply merges the supplied fields of p into r.
func (r *Record) Apply(p Patch) {
	if p.Avatar != nil {
		r.Avatar = *p.Avatar
	}
	if p.Bio != nil {
		r.Bio = *p.Bio
	}
	if p.Age != nil {
		r.Age = p.Age
	}
	if p.Interests != nil {
		r.Interests = p.Interests
	}
	if p.SocialLinks != nil {
		r.SocialLinks = p.SocialLinks
	}
	if p.Coordinates != nil {
		r.Coordinates = *p.Coordinates
	}
}

// ParseCoordinates validates a decoded [longitude, latitude] pair.
func ParseCoordinates(raw []float64) (orb.Point, error) {
	if len(raw) != 2 {
		return orb.Point{}, fmt.Errorf("%w: got %d values", ErrInvalidCoordinates, len(raw))
	}

	lon, lat := raw[0], raw[1]
	if math.IsNaN(lon) || math.IsNaN(lat) || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return orb.Point{}, fmt.Errorf("%w: [%g, %g] out of range", ErrInvalidCoordinates, lon, lat)
	}

	return orb.Point{lon, lat}, nil
}
