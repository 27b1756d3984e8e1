package user

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Property keys of an encoded record.
const (
	PropUsername    = "username"
	PropAvatar      = "avatar"
	PropBio         = "bio"
	PropAge         = "age"
	PropInterests   = "interests"
	PropSocialLinks = "socialLinks"
	PropJoinedAt    = "joinedAt"
	PropLastSeen    = "lastSeen"
	PropOnline      = "online"
)

// ErrInvalidFeature is returned when a feature cannot be decoded into a Record.
var ErrInvalidFeature = errors.New("invalid user feature")

// Feature encodes r as a GeoJSON Point feature. The session handle itself is never
// encoded; only whether one is attached.
func (r Record) Feature() *geojson.Feature {
	f := geojson.NewFeature(r.Coordinates)

	f.Properties[PropUsername] = r.Username
	f.Properties[PropAvatar] = r.Avatar
	f.Properties[PropBio] = r.Bio
	f.Properties[PropAge] = r.Age
	f.Properties[PropInterests] = r.Interests
	f.Properties[PropSocialLinks] = r.SocialLinks
	f.Properties[PropJoinedAt] = r.JoinedAt.UTC().Format(time.RFC3339Nano)
	f.Properties[PropLastSeen] = r.LastSeen.UTC().Format(time.RFC3339Nano)
	f.Properties[PropOnline] = r.Online()

	return f
}

// FromFeature decodes a feature produced by Record.Feature. The decoded record is
// always detached: session handles do not outlive the process that issued them.
func FromFeature(f *geojson.Feature) (Record, error) {
	if f == nil {
		return Record{}, fmt.Errorf("%w: nil feature", ErrInvalidFeature)
	}

	username := f.Properties.MustString(PropUsername, "")
	if username == "" {
		return Record{}, fmt.Errorf("%w: missing username", ErrInvalidFeature)
	}

	point, ok := f.Geometry.(orb.Point)
	if !ok {
		return Record{}, fmt.Errorf("%w: %q geometry is not a point", ErrInvalidFeature, username)
	}

	joinedAt, err := parseTime(f.Properties, PropJoinedAt)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %q: %v", ErrInvalidFeature, username, err)
	}
	lastSeen, err := parseTime(f.Properties, PropLastSeen)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %q: %v", ErrInvalidFeature, username, err)
	}

	rec := New(username, joinedAt)
	rec.LastSeen = lastSeen
	rec.Coordinates = point
	rec.Avatar = f.Properties.MustString(PropAvatar, "")
	rec.Bio = f.Properties.MustString(PropBio, "")
	if v, ok := f.Properties[PropAge]; ok && v != nil {
		rec.Age = v
	}
	if v, ok := f.Properties[PropInterests]; ok && v != nil {
		rec.Interests = v
	}
	if v, ok := f.Properties[PropSocialLinks]; ok && v != nil {
		rec.SocialLinks = v
	}

	return rec, nil
}

// FeatureCollection encodes records as a collection ordered by username.
func FeatureCollection(records []Record) *geojson.FeatureCollection {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Username < sorted[j].Username })

	fc := geojson.NewFeatureCollection()
	for _, rec := range sorted {
		fc.Append(rec.Feature())
	}
	return fc
}

// FromFeatureCollection decodes every valid feature of fc. Invalid features are
// returned as errors alongside the records that did decode.
func FromFeatureCollection(fc *geojson.FeatureCollection) ([]Record, []error) {
	if fc == nil {
		return nil, nil
	}

	records := make([]Record, 0, len(fc.Features))
	var problems []error
	for _, f := range fc.Features {
		rec, err := FromFeature(f)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		records = append(records, rec)
	}
	return records, problems
}

func parseTime(props geojson.Properties, key string) (time.Time, error) {
	raw, ok := props[key].(string)
	if !ok {
		return time.Time{}, fmt.Errorf("missing %s", key)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return t, nil
}
