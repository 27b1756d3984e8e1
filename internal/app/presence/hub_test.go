package presence

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewHub(NewStore(clock.Now), NewRegistry(), nil), clock
}

func newTestClient(h *Hub, id string, queue int) *Client {
	return &Client{
		id:     id,
		hub:    h,
		send:   make(chan []byte, queue),
		logger: zerolog.Nop(),
	}
}

// connect registers a client directly on the loop-owned state.
func connect(h *Hub, id string) *Client {
	c := newTestClient(h, id, 32)
	h.handleRegister(c)
	return c
}

func frame(t *testing.T, eventType EventType, payload any) []byte {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(Envelope{Type: eventType, Payload: body})
	require.NoError(t, err)
	return data
}

// drain returns every frame queued for c without blocking.
func drain(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(msg, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func decodeFeature(t *testing.T, env Envelope) *geojson.Feature {
	t.Helper()
	f, err := geojson.UnmarshalFeature(env.Payload)
	require.NoError(t, err)
	return f
}

func join(username string, lon, lat float64) map[string]any {
	return map[string]any{
		"username":    username,
		"avatar":      "/uploads/avatars/" + username + ".png",
		"coordinates": []float64{lon, lat},
	}
}

func TestHubScenario(t *testing.T) {
	h, clock := newTestHub(t)

	a := connect(h, "s-a")
	assert.Empty(t, drain(t, a), "no initial sync while the store is empty")

	h.handleInbound(a, frame(t, EventNewUser, join("U1", 10, 20)))

	frames := drain(t, a)
	require.Len(t, frames, 1, "the sender receives its own join")
	assert.Equal(t, EventNewUser, frames[0].Type)
	f := decodeFeature(t, frames[0])
	assert.Equal(t, "U1", f.Properties.MustString("username"))
	assert.Equal(t, orb.Point{10, 20}, f.Geometry)

	b := connect(h, "s-b")
	frames = drain(t, b)
	require.Len(t, frames, 1)
	assert.Equal(t, EventNewUser, frames[0].Type)
	fc, err := geojson.UnmarshalFeatureCollection(frames[0].Payload)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "U1", fc.Features[0].Properties.MustString("username"))

	h.handleInbound(b, frame(t, EventNewUser, join("U2", 30, 40)))
	assert.Len(t, drain(t, a), 1)
	assert.Len(t, drain(t, b), 1)

	clock.Advance(time.Minute)
	h.handleUnregister(a)

	frames = drain(t, b)
	require.Len(t, frames, 1)
	assert.Equal(t, EventUserDisconnected, frames[0].Type)
	var gone string
	require.NoError(t, json.Unmarshal(frames[0].Payload, &gone))
	assert.Equal(t, "U1", gone)

	u1, ok := h.Store().Get("U1")
	require.True(t, ok, "disconnect keeps the record")
	assert.Empty(t, u1.SessionID)
	assert.Equal(t, clock.now, u1.LastSeen)

	clock.Advance(time.Minute)
	h.handleInbound(b, frame(t, EventUserUpdated, map[string]any{"bio": "hi"}))

	frames = drain(t, b)
	require.Len(t, frames, 1)
	assert.Equal(t, EventUserUpdated, frames[0].Type)
	f = decodeFeature(t, frames[0])
	assert.Equal(t, "U2", f.Properties.MustString("username"))
	assert.Equal(t, "hi", f.Properties.MustString("bio"))
	assert.Equal(t, orb.Point{30, 40}, f.Geometry)

	u2, _ := h.Store().Get("U2")
	assert.Equal(t, clock.now, u2.LastSeen)
}

func TestHubJoinUniqueness(t *testing.T) {
	h, _ := newTestHub(t)

	names := []string{"a", "b", "a", "c", "b", "a"}
	for i, name := range names {
		c := connect(h, fmt.Sprintf("s-%d", i))
		h.handleInbound(c, frame(t, EventNewUser, join(name, float64(i), 0)))
	}

	assert.Equal(t, 3, h.Store().Len())

	rec, _ := h.Store().Get("a")
	assert.Equal(t, "s-5", rec.SessionID, "the latest join holds the record")
	assert.Equal(t, orb.Point{5, 0}, rec.Coordinates)
}

func TestHubRejectsMalformedJoin(t *testing.T) {
	h, _ := newTestHub(t)
	a := connect(h, "s-a")

	bad := [][]byte{
		[]byte("not json"),
		frame(t, EventNewUser, map[string]any{"username": "u"}),
		frame(t, EventNewUser, map[string]any{"username": "u", "coordinates": []float64{1}}),
		frame(t, EventNewUser, map[string]any{"username": "  ", "coordinates": []float64{1, 2}}),
		frame(t, EventType("teleport"), map[string]any{}),
		[]byte(`{"type":"new_user"}`),
	}
	for _, data := range bad {
		h.handleInbound(a, data)
	}

	assert.Empty(t, drain(t, a))
	assert.Equal(t, 0, h.Store().Len())
	_, bound := h.registry.ResolveIdentity("s-a")
	assert.False(t, bound)
}

func TestHubUpdateUsesBoundIdentity(t *testing.T) {
	h, _ := newTestHub(t)

	victim := connect(h, "s-victim")
	h.handleInbound(victim, frame(t, EventNewUser, join("victim", 1, 1)))

	anon := connect(h, "s-anon")
	drain(t, victim)
	drain(t, anon)

	err := h.handleUpdate(anon, json.RawMessage(`{"username":"victim","bio":"pwned"}`))
	assert.ErrorIs(t, err, ErrUnbound)

	h.handleInbound(anon, frame(t, EventUserUpdated, map[string]any{"username": "victim", "bio": "pwned"}))
	assert.Empty(t, drain(t, victim))

	attacker := connect(h, "s-attacker")
	h.handleInbound(attacker, frame(t, EventNewUser, join("attacker", 2, 2)))
	h.handleInbound(attacker, frame(t, EventUserUpdated, map[string]any{"username": "victim", "bio": "pwned"}))

	rec, _ := h.Store().Get("victim")
	assert.Empty(t, rec.Bio)

	rec, _ = h.Store().Get("attacker")
	assert.Equal(t, "pwned", rec.Bio, "the payload username is ignored")
}

func TestHubUpdateRejectsBadCoordinates(t *testing.T) {
	h, _ := newTestHub(t)
	a := connect(h, "s-a")
	h.handleInbound(a, frame(t, EventNewUser, join("alice", 1, 1)))
	drain(t, a)

	err := h.handleUpdate(a, json.RawMessage(`{"coordinates":[500,0]}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	rec, _ := h.Store().Get("alice")
	assert.Equal(t, orb.Point{1, 1}, rec.Coordinates)
	assert.Empty(t, drain(t, a))
}

func TestHubRelaysMessageToRecipientOnly(t *testing.T) {
	h, _ := newTestHub(t)

	alice := connect(h, "s-alice")
	h.handleInbound(alice, frame(t, EventNewUser, join("alice", 1, 1)))
	bob := connect(h, "s-bob")
	h.handleInbound(bob, frame(t, EventNewUser, join("bob", 2, 2)))
	carol := connect(h, "s-carol")
	drain(t, alice)
	drain(t, bob)
	drain(t, carol)

	payload := json.RawMessage(`{"from":"alice","to":"bob","message":{"text":"hi","sentAt":1}}`)
	require.NoError(t, h.handleSendMessage(alice, payload))

	frames := drain(t, bob)
	require.Len(t, frames, 1)
	assert.Equal(t, EventNewMessage, frames[0].Type)
	assert.JSONEq(t, string(payload), string(frames[0].Payload))

	assert.Empty(t, drain(t, alice))
	assert.Empty(t, drain(t, carol))
}

func TestHubDropsMessageToOfflineRecipient(t *testing.T) {
	h, _ := newTestHub(t)

	alice := connect(h, "s-alice")
	h.handleInbound(alice, frame(t, EventNewUser, join("alice", 1, 1)))
	bob := connect(h, "s-bob")
	h.handleInbound(bob, frame(t, EventNewUser, join("bob", 2, 2)))
	h.handleUnregister(bob)
	drain(t, alice)

	err := h.handleSendMessage(alice, json.RawMessage(`{"from":"alice","to":"bob","message":"hi"}`))
	assert.ErrorIs(t, err, ErrUnknownRecipient)

	h.handleInbound(alice, frame(t, EventSendMessage, map[string]any{"from": "alice", "to": "nobody", "message": "hi"}))
	assert.Empty(t, drain(t, alice))
}

func TestHubRejectsSpoofedSender(t *testing.T) {
	h, _ := newTestHub(t)

	alice := connect(h, "s-alice")
	h.handleInbound(alice, frame(t, EventNewUser, join("alice", 1, 1)))
	bob := connect(h, "s-bob")
	h.handleInbound(bob, frame(t, EventNewUser, join("bob", 2, 2)))
	drain(t, alice)
	drain(t, bob)

	err := h.handleSendMessage(alice, json.RawMessage(`{"from":"mallory","to":"bob","message":"hi"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.Empty(t, drain(t, bob))

	err = h.handleSendMessage(alice, json.RawMessage(`{"from":"alice","to":"bob"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestHubDeleteChatNotifiesBothParties(t *testing.T) {
	h, _ := newTestHub(t)

	alice := connect(h, "s-alice")
	h.handleInbound(alice, frame(t, EventNewUser, join("alice", 1, 1)))
	bob := connect(h, "s-bob")
	h.handleInbound(bob, frame(t, EventNewUser, join("bob", 2, 2)))
	drain(t, alice)
	drain(t, bob)

	before := h.Store().Revision()
	h.handleInbound(alice, frame(t, EventDeleteChat, map[string]any{"from": "alice", "with": "bob"}))

	for client, other := range map[*Client]string{alice: "bob", bob: "alice"} {
		frames := drain(t, client)
		require.Len(t, frames, 1)
		assert.Equal(t, EventChatDeleted, frames[0].Type)

		var body ChatDeleted
		require.NoError(t, json.Unmarshal(frames[0].Payload, &body))
		assert.Equal(t, other, body.With)
	}
	assert.Equal(t, before, h.Store().Revision(), "delete_chat does not mutate records")

	require.NoError(t, h.handleDeleteChat(alice, json.RawMessage(`{"from":"alice","with":"ghost"}`)))
	assert.Len(t, drain(t, alice), 1)
}

func TestHubDeleteChatForMeHasNoEffect(t *testing.T) {
	h, _ := newTestHub(t)

	alice := connect(h, "s-alice")
	h.handleInbound(alice, frame(t, EventNewUser, join("alice", 1, 1)))
	bob := connect(h, "s-bob")
	h.handleInbound(bob, frame(t, EventNewUser, join("bob", 2, 2)))
	drain(t, alice)
	drain(t, bob)

	h.handleInbound(alice, frame(t, EventDeleteChatForMe, map[string]any{"from": "alice", "with": "bob"}))

	assert.Empty(t, drain(t, alice))
	assert.Empty(t, drain(t, bob))
}

func TestHubSupersededSessionLosesRelay(t *testing.T) {
	h, _ := newTestHub(t)

	first := connect(h, "s-first")
	h.handleInbound(first, frame(t, EventNewUser, join("alice", 1, 1)))
	second := connect(h, "s-second")
	h.handleInbound(second, frame(t, EventNewUser, join("alice", 1, 1)))
	sender := connect(h, "s-sender")
	h.handleInbound(sender, frame(t, EventNewUser, join("bob", 2, 2)))
	drain(t, first)
	drain(t, second)

	require.NoError(t, h.handleSendMessage(sender, json.RawMessage(`{"from":"bob","to":"alice","message":"hi"}`)))
	assert.Empty(t, drain(t, first))
	assert.Len(t, drain(t, second), 1)

	h.handleUnregister(first)
	for _, env := range drain(t, second) {
		assert.NotEqual(t, EventUserDisconnected, env.Type, "the superseded session held no identity")
	}

	rec, _ := h.Store().Get("alice")
	assert.Equal(t, "s-second", rec.SessionID)
}

func TestHubRejoinAsOtherIdentityReleasesPrevious(t *testing.T) {
	h, _ := newTestHub(t)

	a := connect(h, "s-a")
	h.handleInbound(a, frame(t, EventNewUser, join("old-name", 1, 1)))
	watcher := connect(h, "s-w")
	drain(t, a)
	drain(t, watcher)

	h.handleInbound(a, frame(t, EventNewUser, join("new-name", 1, 1)))

	frames := drain(t, watcher)
	require.Len(t, frames, 2)
	assert.Equal(t, EventUserDisconnected, frames[0].Type)
	assert.Equal(t, EventNewUser, frames[1].Type)

	old, _ := h.Store().Get("old-name")
	assert.Empty(t, old.SessionID)
}

func TestHubEvictsSlowClient(t *testing.T) {
	h, _ := newTestHub(t)

	fast := connect(h, "s-fast")
	slow := newTestClient(h, "s-slow", 1)
	h.handleRegister(slow)
	h.handleInbound(slow, frame(t, EventNewUser, join("slowpoke", 1, 1)))

	h.handleInbound(fast, frame(t, EventNewUser, join("speedy", 2, 2)))

	_, live := h.clients["s-slow"]
	assert.False(t, live)
	assert.True(t, slow.closed)

	rec, _ := h.Store().Get("slowpoke")
	assert.Empty(t, rec.SessionID)

	var types []EventType
	for _, env := range drain(t, fast) {
		types = append(types, env.Type)
	}
	assert.Contains(t, types, EventUserDisconnected)
}

func TestHubRunLoop(t *testing.T) {
	h, _ := newTestHub(t)
	go h.Run()

	c := newTestClient(h, "s-loop", 32)
	require.NoError(t, h.Register(c))
	require.NoError(t, h.Submit(c, frame(t, EventNewUser, join("looper", 3, 4))))

	select {
	case msg := <-c.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		assert.Equal(t, EventNewUser, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for join broadcast")
	}

	h.Stop()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	rec, ok := h.Store().Get("looper")
	require.True(t, ok)
	assert.Empty(t, rec.SessionID, "shutdown detaches every record")

	assert.ErrorIs(t, h.Register(newTestClient(h, "late", 1)), ErrHubStopped)
	_, err := h.Sweep(time.Now())
	assert.ErrorIs(t, err, ErrHubStopped)
}

func TestHubRejectsRelayFromAnonymousSession(t *testing.T) {
	h, _ := newTestHub(t)

	alice := connect(h, "s-alice")
	h.handleInbound(alice, frame(t, EventNewUser, join("alice", 1, 1)))
	anon := connect(h, "s-anon")
	drain(t, alice)
	drain(t, anon)

	err := h.handleSendMessage(anon, json.RawMessage(`{"from":"alice","to":"alice","message":"hi"}`))
	assert.ErrorIs(t, err, ErrUnbound)

	err = h.handleDeleteChat(anon, json.RawMessage(`{"from":"bob","with":"alice"}`))
	assert.ErrorIs(t, err, ErrUnbound)

	assert.Empty(t, drain(t, alice))
}

func TestHubUnknownEventTypesShareOneSeries(t *testing.T) {
	clock := newFakeClock()
	h := NewHub(NewStore(clock.Now), NewRegistry(), NewMetrics(prometheus.NewRegistry()))
	c := connect(h, "s-junk")

	for i := 0; i < 500; i++ {
		h.handleInbound(c, []byte(fmt.Sprintf(`{"type":"junk-%d","payload":{}}`, i)))
	}
	h.handleInbound(c, []byte(`{"type":`))
	h.handleInbound(c, frame(t, EventNewUser, join("alice", 1, 1)))

	assert.Equal(t, 2, testutil.CollectAndCount(h.metrics.events))
	assert.Equal(t, float64(501), testutil.ToFloat64(h.metrics.events.WithLabelValues(string(EventUnknown), "malformed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.events.WithLabelValues(string(EventNewUser), "ok")))
}

func TestHubSweepUnbindsExpiredSession(t *testing.T) {
	h, clock := newTestHub(t)

	a := connect(h, "s-a")
	h.handleInbound(a, frame(t, EventNewUser, join("U1", 10, 20)))
	drain(t, a)

	clock.Advance(DefaultRetention + 24*time.Hour)
	removed := h.handleSweep(clock.now.Add(-DefaultRetention))
	assert.Equal(t, []string{"U1"}, removed)

	_, bound := h.registry.ResolveIdentity("s-a")
	assert.False(t, bound)
	_, live := h.clients["s-a"]
	assert.True(t, live, "the session itself stays connected")

	err := h.handleUpdate(a, json.RawMessage(`{"bio":"x"}`))
	assert.ErrorIs(t, err, ErrUnbound)
	_, present := h.Store().Get("U1")
	assert.False(t, present, "an update never recreates a swept record")
	assert.Empty(t, drain(t, a))

	h.handleInbound(a, frame(t, EventNewUser, join("U1", 5, 5)))
	rec, present := h.Store().Get("U1")
	require.True(t, present)
	assert.Equal(t, orb.Point{5, 5}, rec.Coordinates)
	assert.Equal(t, clock.now, rec.JoinedAt)
}

func TestHubUpdateWithoutRecordIsDropped(t *testing.T) {
	h, _ := newTestHub(t)

	a := connect(h, "s-a")
	h.handleInbound(a, frame(t, EventNewUser, join("alice", 1, 1)))
	drain(t, a)
	require.True(t, h.Store().Remove("alice"))

	h.handleInbound(a, frame(t, EventUserUpdated, map[string]any{"bio": "x"}))

	assert.Zero(t, h.Store().Len())
	assert.Empty(t, drain(t, a))
}
