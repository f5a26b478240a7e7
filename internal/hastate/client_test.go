package hastate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
	"github.com/Dmxmj/ha-163-plug/internal/state"
)

// newTestClient returns a client pointed at a test server.
func newTestClient(srv *httptest.Server) *Client {
	return New(config.HomeAssistantConfig{
		URL:     srv.URL,
		Token:   "test-token",
		Timeout: 5,
	})
}

func TestListEntities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states" {
			t.Errorf("path = %q, want /api/states", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		_ = json.NewEncoder(w).Encode([]Entity{
			{ID: "switch.dev_a_on_p_2_1", State: "on"},
			{ID: "sensor.dev_a_voltage", State: "230.1"},
		})
	}))
	defer srv.Close()

	entities, err := newTestClient(srv).ListEntities(context.Background())
	if err != nil {
		t.Fatalf("ListEntities() error = %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("len(entities) = %d, want 2", len(entities))
	}
	if entities[0].ID != "switch.dev_a_on_p_2_1" || entities[0].State != "on" {
		t.Errorf("entities[0] = %+v", entities[0])
	}
}

func TestListEntities_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).ListEntities(context.Background())
	if !errors.Is(err, ErrRequestFailed) {
		t.Errorf("ListEntities() error = %v, want ErrRequestFailed", err)
	}
}

func TestReadValue(t *testing.T) {
	states := map[string]string{
		"switch.dev_a_on_p_2_1":  "on",
		"switch.dev_a_on_p_7_1":  "off",
		"select.dev_a_default":   "memory",
		"sensor.dev_a_voltage":   "230.1",
		"sensor.dev_a_bad":       "not-a-number",
		"switch.dev_a_offline":   "unavailable",
		"sensor.dev_a_undefined": "unknown",
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/api/states/"):]
		raw, ok := states[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(Entity{ID: id, State: raw})
	}))
	defer srv.Close()

	client := newTestClient(srv)
	ctx := context.Background()

	tests := []struct {
		name     string
		entityID string
		want     state.Value
		wantErr  error
	}{
		{
			name:     "switch on",
			entityID: "switch.dev_a_on_p_2_1",
			want:     state.BoolValue(true),
		},
		{
			name:     "switch off",
			entityID: "switch.dev_a_on_p_7_1",
			want:     state.BoolValue(false),
		},
		{
			name:     "select option",
			entityID: "select.dev_a_default",
			want:     state.EnumValue("memory"),
		},
		{
			name:     "sensor float",
			entityID: "sensor.dev_a_voltage",
			want:     state.NumberValue(230.1),
		},
		{
			name:     "sensor non-numeric",
			entityID: "sensor.dev_a_bad",
			wantErr:  ErrUnavailable,
		},
		{
			name:     "unavailable state",
			entityID: "switch.dev_a_offline",
			wantErr:  ErrUnavailable,
		},
		{
			name:     "unknown state",
			entityID: "sensor.dev_a_undefined",
			wantErr:  ErrUnavailable,
		},
		{
			name:     "missing entity",
			entityID: "switch.nope",
			wantErr:  ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.ReadValue(ctx, tt.entityID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ReadValue() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadValue() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadValue() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestWriteValue_Switch(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(srv)

	if err := client.WriteValue(context.Background(), "switch.dev_a_on_p_2_1", state.BoolValue(true)); err != nil {
		t.Fatalf("WriteValue() error = %v", err)
	}
	if gotPath != "/api/services/switch/turn_on" {
		t.Errorf("path = %q, want /api/services/switch/turn_on", gotPath)
	}
	if gotBody["entity_id"] != "switch.dev_a_on_p_2_1" {
		t.Errorf("entity_id = %v", gotBody["entity_id"])
	}

	if err := client.WriteValue(context.Background(), "switch.dev_a_on_p_2_1", state.BoolValue(false)); err != nil {
		t.Fatalf("WriteValue() error = %v", err)
	}
	if gotPath != "/api/services/switch/turn_off" {
		t.Errorf("path = %q, want /api/services/switch/turn_off", gotPath)
	}
}

func TestWriteValue_Select(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv).WriteValue(context.Background(), "select.dev_a_default", state.EnumValue("memory"))
	if err != nil {
		t.Fatalf("WriteValue() error = %v", err)
	}
	if gotPath != "/api/services/select/select_option" {
		t.Errorf("path = %q, want /api/services/select/select_option", gotPath)
	}
	if gotBody["option"] != "memory" {
		t.Errorf("option = %v, want memory", gotBody["option"])
	}
}

func TestWriteValue_SensorIsReadOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("sensor write should not reach the server")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv).WriteValue(context.Background(), "sensor.dev_a_voltage", state.NumberValue(1))
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("WriteValue() error = %v, want ErrReadOnly", err)
	}
}

func TestWriteValue_UnsupportedDomain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv).WriteValue(context.Background(), "light.dev_a", state.BoolValue(true))
	if !errors.Is(err, ErrUnsupportedDomain) {
		t.Errorf("WriteValue() error = %v, want ErrUnsupportedDomain", err)
	}
}

func TestDomainHelpers(t *testing.T) {
	if got := Domain("switch.dev_a_on_p_2_1"); got != "switch" {
		t.Errorf("Domain() = %q, want switch", got)
	}
	if got := Domain("noseparator"); got != "" {
		t.Errorf("Domain() = %q, want empty", got)
	}
	if got := LocalPart("switch.dev_a_on_p_2_1"); got != "dev_a_on_p_2_1" {
		t.Errorf("LocalPart() = %q, want dev_a_on_p_2_1", got)
	}
	if got := LocalPart("noseparator"); got != "noseparator" {
		t.Errorf("LocalPart() = %q, want noseparator", got)
	}
}
