package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dmxmj/ha-163-plug/internal/hastate"
	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
	"github.com/Dmxmj/ha-163-plug/internal/state"
)

// fakeSource is an in-memory StateSource.
type fakeSource struct {
	entities []hastate.Entity
	listErr  error
	values   map[string]state.Value
	readErr  error
	listN    int
}

func (f *fakeSource) ListEntities(_ context.Context) ([]hastate.Entity, error) {
	f.listN++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.entities, nil
}

func (f *fakeSource) ReadValue(_ context.Context, entityID string) (state.Value, error) {
	if f.readErr != nil {
		return state.Value{}, f.readErr
	}
	v, ok := f.values[entityID]
	if !ok {
		return state.Value{}, hastate.ErrNotFound
	}
	return v, nil
}

// testClock is a manually advanced clock.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(source StateSource, clock *testClock) *Engine {
	return NewEngine(EngineOptions{
		Source: source,
		Clock:  clock.Now,
	})
}

func twoDevices() []config.DeviceConfig {
	return []config.DeviceConfig{
		testDevice("dev_a", "dev_a"),
		testDevice("dev_b", "dev_b"),
	}
}

func TestDiscoverAll(t *testing.T) {
	source := &fakeSource{
		entities: []hastate.Entity{
			{ID: "switch.dev_a_on_p_2_1", State: "on"},
			{ID: "sensor.dev_a_voltage_p_2_5", State: "230"},
		},
	}
	clock := &testClock{now: time.Unix(1000, 0)}
	engine := newTestEngine(source, clock)

	got := engine.DiscoverAll(context.Background(), twoDevices())

	if len(got) != 1 {
		t.Fatalf("len(map) = %d, want 1 (got %v)", len(got), got)
	}
	if got["dev_a"]["all_switch"] != "switch.dev_a_on_p_2_1" {
		t.Errorf("dev_a all_switch = %q", got["dev_a"]["all_switch"])
	}

	// dev_b mapped nothing and is recorded as failed.
	failures := engine.Failures()
	if _, ok := failures["dev_b"]; !ok {
		t.Error("dev_b missing from failure record")
	}
	if _, ok := failures["dev_a"]; ok {
		t.Error("dev_a should not be in the failure record")
	}
}

func TestDiscoverAll_SkipsDisabledDevices(t *testing.T) {
	source := &fakeSource{
		entities: []hastate.Entity{
			{ID: "switch.dev_a_on_p_2_1", State: "on"},
		},
	}
	clock := &testClock{now: time.Unix(1000, 0)}
	engine := newTestEngine(source, clock)

	devices := twoDevices()
	devices[0].Enabled = false

	got := engine.DiscoverAll(context.Background(), devices)

	if _, ok := got["dev_a"]; ok {
		t.Error("disabled device should not be discovered")
	}
	if _, ok := engine.Failures()["dev_a"]; ok {
		t.Error("disabled device should not be recorded as failed")
	}
}

func TestDiscoverAll_SnapshotFailureKeepsPreviousMap(t *testing.T) {
	source := &fakeSource{
		entities: []hastate.Entity{
			{ID: "switch.dev_a_on_p_2_1", State: "on"},
		},
	}
	clock := &testClock{now: time.Unix(1000, 0)}
	engine := newTestEngine(source, clock)

	first := engine.DiscoverAll(context.Background(), twoDevices())
	if len(first) != 1 {
		t.Fatalf("setup: len(map) = %d, want 1", len(first))
	}

	source.listErr = errors.New("connection refused")
	second := engine.DiscoverAll(context.Background(), twoDevices())

	if len(second) != 1 || second["dev_a"]["all_switch"] != "switch.dev_a_on_p_2_1" {
		t.Errorf("map after failed snapshot = %v, want previous map preserved", second)
	}
}

func TestDiscoverAll_Idempotent(t *testing.T) {
	source := &fakeSource{
		entities: []hastate.Entity{
			{ID: "switch.dev_a_on_p_2_1", State: "on"},
			{ID: "switch.dev_b_on_p_2_1", State: "off"},
		},
	}
	clock := &testClock{now: time.Unix(1000, 0)}
	engine := newTestEngine(source, clock)

	first := engine.DiscoverAll(context.Background(), twoDevices())
	second := engine.DiscoverAll(context.Background(), twoDevices())

	if len(first) != len(second) {
		t.Fatalf("repeat discovery changed device count: %d vs %d", len(first), len(second))
	}
	for dev, props := range first {
		for p, id := range props {
			if second[dev][p] != id {
				t.Errorf("repeat discovery changed %s/%s: %q vs %q", dev, p, id, second[dev][p])
			}
		}
	}
}

func TestRetryFailed(t *testing.T) {
	source := &fakeSource{
		entities: []hastate.Entity{
			{ID: "switch.dev_a_on_p_2_1", State: "on"},
		},
	}
	clock := &testClock{now: time.Unix(1000, 0)}
	engine := newTestEngine(source, clock)

	devices := twoDevices()
	engine.DiscoverAll(context.Background(), devices)

	// dev_b failed. Its entities appear later (device paired after startup).
	source.entities = append(source.entities, hastate.Entity{ID: "switch.dev_b_on_p_2_1", State: "off"})

	// Too soon: failure is younger than the interval.
	listsBefore := source.listN
	engine.RetryFailed(context.Background(), devices, 5*time.Minute)
	if source.listN != listsBefore {
		t.Error("RetryFailed fetched a snapshot before any device was due")
	}
	if _, ok := engine.Map()["dev_b"]; ok {
		t.Fatal("dev_b retried before the interval elapsed")
	}

	// Aged out: retry succeeds and merges without touching dev_a.
	clock.Advance(5 * time.Minute)
	engine.RetryFailed(context.Background(), devices, 5*time.Minute)

	m := engine.Map()
	if m["dev_b"]["all_switch"] != "switch.dev_b_on_p_2_1" {
		t.Errorf("dev_b not discovered on retry: %v", m)
	}
	if m["dev_a"]["all_switch"] != "switch.dev_a_on_p_2_1" {
		t.Errorf("retry disturbed dev_a: %v", m)
	}
	if _, ok := engine.Failures()["dev_b"]; ok {
		t.Error("dev_b failure record not cleared after success")
	}
}

func TestRetryFailed_StillFailingKeepsRecord(t *testing.T) {
	source := &fakeSource{}
	clock := &testClock{now: time.Unix(1000, 0)}
	engine := newTestEngine(source, clock)

	devices := twoDevices()
	engine.DiscoverAll(context.Background(), devices)

	firstFailure := engine.Failures()["dev_a"]

	clock.Advance(10 * time.Minute)
	engine.RetryFailed(context.Background(), devices, 5*time.Minute)

	// Still failing: the record timestamp moves forward.
	secondFailure := engine.Failures()["dev_a"]
	if !secondFailure.After(firstFailure) {
		t.Errorf("failure timestamp not refreshed: %v -> %v", firstFailure, secondFailure)
	}
}

func TestDiscoverDevices_MergesWithoutRebuilding(t *testing.T) {
	source := &fakeSource{
		entities: []hastate.Entity{
			{ID: "switch.dev_a_on_p_2_1", State: "on"},
		},
	}
	clock := &testClock{now: time.Unix(1000, 0)}
	engine := newTestEngine(source, clock)
	engine.DiscoverAll(context.Background(), []config.DeviceConfig{testDevice("dev_a", "dev_a")})

	// A new device appears in config and its entities exist.
	source.entities = append(source.entities, hastate.Entity{ID: "switch.dev_c_on_p_2_1", State: "on"})
	engine.DiscoverDevices(context.Background(), []config.DeviceConfig{testDevice("dev_c", "dev_c")})

	m := engine.Map()
	if len(m) != 2 {
		t.Fatalf("len(map) = %d, want 2 (got %v)", len(m), m)
	}
	if m["dev_c"]["all_switch"] != "switch.dev_c_on_p_2_1" {
		t.Errorf("dev_c not merged: %v", m)
	}
}

func TestReadProperty(t *testing.T) {
	source := &fakeSource{
		values: map[string]state.Value{
			"switch.dev_a_on_p_2_1": state.BoolValue(true),
		},
	}
	clock := &testClock{now: time.Unix(1000, 0)}
	engine := newTestEngine(source, clock)

	v, ok := engine.ReadProperty(context.Background(), "switch.dev_a_on_p_2_1")
	if !ok || !v.Bool {
		t.Errorf("ReadProperty() = (%+v, %v), want (bool true, true)", v, ok)
	}

	// Missing entity: absence, not an error.
	if _, ok := engine.ReadProperty(context.Background(), "switch.gone"); ok {
		t.Error("ReadProperty() ok = true for missing entity")
	}

	// Transport failure: same containment.
	source.readErr = errors.New("connection refused")
	if _, ok := engine.ReadProperty(context.Background(), "switch.dev_a_on_p_2_1"); ok {
		t.Error("ReadProperty() ok = true on transport failure")
	}
}

func TestRemove(t *testing.T) {
	source := &fakeSource{
		entities: []hastate.Entity{
			{ID: "switch.dev_a_on_p_2_1", State: "on"},
		},
	}
	clock := &testClock{now: time.Unix(1000, 0)}
	engine := newTestEngine(source, clock)
	engine.DiscoverAll(context.Background(), twoDevices())

	engine.Remove("dev_a")
	engine.Remove("dev_b")

	if len(engine.Map()) != 0 {
		t.Errorf("Map() after Remove = %v, want empty", engine.Map())
	}
	if len(engine.Failures()) != 0 {
		t.Errorf("Failures() after Remove = %v, want empty", engine.Failures())
	}
}

func TestMapReturnsCopy(t *testing.T) {
	source := &fakeSource{
		entities: []hastate.Entity{
			{ID: "switch.dev_a_on_p_2_1", State: "on"},
		},
	}
	clock := &testClock{now: time.Unix(1000, 0)}
	engine := newTestEngine(source, clock)
	engine.DiscoverAll(context.Background(), []config.DeviceConfig{testDevice("dev_a", "dev_a")})

	m := engine.Map()
	m["dev_a"]["all_switch"] = "tampered"

	if engine.Map()["dev_a"]["all_switch"] != "switch.dev_a_on_p_2_1" {
		t.Error("mutating Map() result leaked into the engine")
	}
}
