package user

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestApplyMergesOnlySuppliedFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := New("alice", now)
	rec.Avatar = "https://cdn.example.com/a.png"
	rec.Coordinates = orb.Point{10, 20}
	rec.Interests = []any{"hiking"}

	rec.Apply(Patch{Bio: strPtr("x")})

	assert.Equal(t, "x", rec.Bio)
	assert.Equal(t, "https://cdn.example.com/a.png", rec.Avatar)
	assert.Equal(t, orb.Point{10, 20}, rec.Coordinates)
	assert.Equal(t, []any{"hiking"}, rec.Interests)
	assert.Equal(t, now, rec.JoinedAt)
}

func TestParseCoordinates(t *testing.T) {
	p, err := ParseCoordinates([]float64{10, 20})
	require.NoError(t, err)
	assert.Equal(t, 10.0, p.Lon())
	assert.Equal(t, 20.0, p.Lat())

	for _, raw := range [][]float64{nil, {1}, {1, 2, 3}, {181, 0}, {0, -91}} {
		_, err := ParseCoordinates(raw)
		assert.ErrorIs(t, err, ErrInvalidCoordinates, "input %v", raw)
	}
}

func TestFeatureEncoding(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := New("alice", now)
	rec.Coordinates = orb.Point{10, 20}
	rec.SessionID = "s-1"

	data, err := json.Marshal(rec.Feature())
	require.NoError(t, err)

	var decoded struct {
		Type     string `json:"type"`
		Geometry struct {
			Type        string     `json:"type"`
			Coordinates [2]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "Feature", decoded.Type)
	assert.Equal(t, "Point", decoded.Geometry.Type)
	assert.Equal(t, [2]float64{10, 20}, decoded.Geometry.Coordinates)
	assert.Equal(t, "alice", decoded.Properties[PropUsername])
	assert.Equal(t, true, decoded.Properties[PropOnline])
	assert.NotContains(t, string(data), "s-1")
}

func TestFeatureCollectionRoundTrip(t *testing.T) {
	joined := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	seen := joined.Add(90 * time.Minute)

	alice := New("alice", joined)
	alice.LastSeen = seen
	alice.Avatar = "/uploads/avatars/a.png"
	alice.Bio = "hello"
	alice.Age = float64(31)
	alice.Interests = []any{"maps", "go"}
	alice.SocialLinks = map[string]any{"github": "alice"}
	alice.Coordinates = orb.Point{-0.1276, 51.5072}

	bob := New("bob", joined)
	bob.Coordinates = orb.Point{2.35, 48.85}
	bob.SessionID = "live"

	data, err := json.Marshal(FeatureCollection([]Record{bob, alice}))
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)

	records, problems := FromFeatureCollection(fc)
	require.Empty(t, problems)
	require.Len(t, records, 2)

	got := records[0]
	assert.Equal(t, "alice", got.Username, "collection is ordered by username")
	assert.True(t, got.JoinedAt.Equal(alice.JoinedAt))
	assert.True(t, got.LastSeen.Equal(alice.LastSeen))
	assert.Equal(t, alice.Avatar, got.Avatar)
	assert.Equal(t, alice.Bio, got.Bio)
	assert.Equal(t, alice.Age, got.Age)
	assert.Equal(t, alice.Interests, got.Interests)
	assert.Equal(t, alice.SocialLinks, got.SocialLinks)
	assert.Equal(t, alice.Coordinates, got.Coordinates)

	assert.Equal(t, "bob", records[1].Username)
	assert.Empty(t, records[1].SessionID, "session handles are not restored")
}

func TestFromFeatureCollectionReportsInvalidFeatures(t *testing.T) {
	now := time.Now().UTC()
	valid := New("carol", now)

	noName := geojson.NewFeature(orb.Point{1, 1})
	noName.Properties[PropJoinedAt] = now.Format(time.RFC3339Nano)

	line := valid.Feature()
	line.Geometry = orb.LineString{{0, 0}, {1, 1}}
	line.Properties[PropUsername] = "dave"

	fc := geojson.NewFeatureCollection()
	fc.Append(valid.Feature())
	fc.Append(noName)
	fc.Append(line)

	records, problems := FromFeatureCollection(fc)

	require.Len(t, records, 1)
	assert.Equal(t, "carol", records[0].Username)
	require.Len(t, problems, 2)
	for _, p := range problems {
		assert.ErrorIs(t, p, ErrInvalidFeature)
	}
}
