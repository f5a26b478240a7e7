package hastate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Dmxmj/ha-163-plug/internal/infrastructure/config"
	"github.com/Dmxmj/ha-163-plug/internal/state"
)

// Entity domains the bridge understands.
const (
	DomainSwitch = "switch"
	DomainSelect = "select"
	DomainSensor = "sensor"
)

// maxResponseBody bounds how much of a response is read. The states list
// of a large installation fits comfortably; anything bigger is broken.
const maxResponseBody = 8 << 20 // 8MB

// Client talks to the Home Assistant REST API.
//
// Every call is independently failable: a failed read of one entity says
// nothing about the next. Callers hold the containment policy; the client
// just reports errors.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Entity is one row of the states listing.
type Entity struct {
	ID    string `json:"entity_id"`
	State string `json:"state"`
}

// New creates a client from configuration.
func New(cfg config.HomeAssistantConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		http: &http.Client{
			Timeout: cfg.GetTimeout(),
		},
	}
}

// ListEntities returns every entity known to the local store.
func (c *Client) ListEntities(ctx context.Context) ([]Entity, error) {
	body, err := c.get(ctx, "/api/states")
	if err != nil {
		return nil, err
	}

	var entities []Entity
	if err := json.Unmarshal(body, &entities); err != nil {
		return nil, fmt.Errorf("%w: decoding states: %w", ErrRequestFailed, err)
	}
	return entities, nil
}

// ReadValue reads one entity and types its state by domain:
// switch -> bool, select -> enum option, sensor -> float.
//
// "unknown", "unavailable", and empty states return ErrUnavailable.
func (c *Client) ReadValue(ctx context.Context, entityID string) (state.Value, error) {
	body, err := c.get(ctx, "/api/states/"+entityID)
	if err != nil {
		return state.Value{}, err
	}

	var ent Entity
	if err := json.Unmarshal(body, &ent); err != nil {
		return state.Value{}, fmt.Errorf("%w: decoding state: %w", ErrRequestFailed, err)
	}

	return typedValue(entityID, ent.State)
}

// WriteValue pushes a value into the local store by calling the domain
// service: switch/turn_on|turn_off, select/select_option. Sensors are
// read-only.
func (c *Client) WriteValue(ctx context.Context, entityID string, v state.Value) error {
	domain := Domain(entityID)

	switch domain {
	case DomainSwitch:
		if v.Kind != state.KindBool {
			return fmt.Errorf("%w: switch entity %s needs a bool, got %s", ErrRequestFailed, entityID, v.Kind)
		}
		service := "turn_off"
		if v.Bool {
			service = "turn_on"
		}
		return c.callService(ctx, domain, service, map[string]any{
			"entity_id": entityID,
		})

	case DomainSelect:
		if v.Kind != state.KindEnum {
			return fmt.Errorf("%w: select entity %s needs an option, got %s", ErrRequestFailed, entityID, v.Kind)
		}
		return c.callService(ctx, domain, "select_option", map[string]any{
			"entity_id": entityID,
			"option":    v.Option,
		})

	case DomainSensor:
		return fmt.Errorf("%w: %s", ErrReadOnly, entityID)

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDomain, entityID)
	}
}

// Domain returns the entity's domain ("switch" for "switch.plug_1").
func Domain(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i > 0 {
		return entityID[:i]
	}
	return ""
}

// LocalPart returns the entity id with the domain stripped.
func LocalPart(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[i+1:]
	}
	return entityID
}

// typedValue converts a raw state string into a typed value by domain.
func typedValue(entityID, raw string) (state.Value, error) {
	if raw == "" || raw == "unknown" || raw == "unavailable" {
		return state.Value{}, fmt.Errorf("%w: %s is %q", ErrUnavailable, entityID, raw)
	}

	switch Domain(entityID) {
	case DomainSwitch:
		return state.BoolValue(raw == "on"), nil
	case DomainSelect:
		return state.EnumValue(raw), nil
	case DomainSensor:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return state.Value{}, fmt.Errorf("%w: %s state %q is not numeric", ErrUnavailable, entityID, raw)
		}
		return state.NumberValue(f), nil
	default:
		return state.Value{}, fmt.Errorf("%w: %s", ErrUnsupportedDomain, entityID)
	}
}

// get performs an authenticated GET and returns the response body.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrRequestFailed, err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-side close error is unactionable

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: GET %s", ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s returned %d", ErrRequestFailed, path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrRequestFailed, err)
	}
	return body, nil
}

// callService performs an authenticated POST to a service endpoint.
func (c *Client) callService(ctx context.Context, domain, service string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrRequestFailed, err)
	}

	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %w", ErrRequestFailed, err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-side close error is unactionable

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: POST %s returned %d", ErrRequestFailed, path, resp.StatusCode)
	}
	return nil
}

// setHeaders attaches the bearer token when one is configured.
func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
