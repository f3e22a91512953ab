package hue

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnauthorized is returned when the bridge rejects the application key.
var ErrUnauthorized = errors.New("application key rejected by bridge")

// ErrNotFound is returned when a resource id does not exist on the bridge.
var ErrNotFound = errors.New("resource not found")

// NewHTTPClient builds an HTTP client suitable for talking to a Hue
// bridge. TLS verification is disabled because bridges serve a
// self-signed certificate.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// Client performs stateless CLIP v2 REST operations against one bridge.
// Pure transport layer: no caching, no retries.
type Client struct {
	address    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the bridge at address, authenticating
// with the given application key.
func NewClient(address, token string, timeout time.Duration) *Client {
	return &Client{
		address:    address,
		token:      token,
		httpClient: NewHTTPClient(timeout),
	}
}

// Address returns the bridge address.
func (c *Client) Address() string {
	return c.address
}

// Token returns the application key (also used by the event stream).
func (c *Client) Token() string {
	return c.token
}

// Close closes idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("https://%s/clip/v2/%s", c.address, path)
}

// Request performs an HTTP request against the CLIP v2 API.
func (c *Client) Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("hue-application-key", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// envelope is the standard CLIP v2 response body. Both fields may be
// populated at once: bridges report partial errors alongside partial data.
type envelope struct {
	Errors []APIError      `json:"errors"`
	Data   json.RawMessage `json:"data"`
}

// fetch performs a GET and decodes the envelope into typed records plus
// any bridge-reported errors. Callers must check both: a populated error
// list does not imply empty data, nor the reverse.
func fetch[T any](ctx context.Context, c *Client, path string) ([]T, []APIError, error) {
	resp, err := c.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, nil, fmt.Errorf("GET %s: %w", path, ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("GET %s: unexpected status code %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, nil, fmt.Errorf("GET %s: malformed response: %w", path, err)
	}

	var records []T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &records); err != nil {
			return nil, env.Errors, fmt.Errorf("GET %s: malformed data array: %w", path, err)
		}
	}
	return records, env.Errors, nil
}

// GetLights returns all light services.
func (c *Client) GetLights(ctx context.Context) ([]LightResource, []APIError, error) {
	return fetch[LightResource](ctx, c, "resource/light")
}

// GetLight returns a single light by id.
func (c *Client) GetLight(ctx context.Context, id string) (*LightResource, error) {
	lights, _, err := fetch[LightResource](ctx, c, "resource/light/"+id)
	if err != nil {
		return nil, err
	}
	if len(lights) == 0 {
		return nil, fmt.Errorf("light %q: %w", id, ErrNotFound)
	}
	return &lights[0], nil
}

// GetDevices returns all devices.
func (c *Client) GetDevices(ctx context.Context) ([]DeviceResource, []APIError, error) {
	return fetch[DeviceResource](ctx, c, "resource/device")
}

// GetRooms returns all rooms.
func (c *Client) GetRooms(ctx context.Context) ([]GroupResource, []APIError, error) {
	return fetch[GroupResource](ctx, c, "resource/room")
}

// GetZones returns all zones.
func (c *Client) GetZones(ctx context.Context) ([]GroupResource, []APIError, error) {
	return fetch[GroupResource](ctx, c, "resource/zone")
}

// GetScenes returns all scenes.
func (c *Client) GetScenes(ctx context.Context) ([]SceneResource, []APIError, error) {
	return fetch[SceneResource](ctx, c, "resource/scene")
}

// GetGroupedLights returns all grouped_light services.
func (c *Client) GetGroupedLights(ctx context.Context) ([]GroupedLightResource, []APIError, error) {
	return fetch[GroupedLightResource](ctx, c, "resource/grouped_light")
}

// GetBridge returns the bridge's self-description. The bridge endpoint
// always reports exactly one record for the bridge itself.
func (c *Client) GetBridge(ctx context.Context) (*BridgeResource, error) {
	bridges, apiErrs, err := fetch[BridgeResource](ctx, c, "resource/bridge")
	if err != nil {
		return nil, err
	}
	if len(bridges) == 0 {
		if len(apiErrs) > 0 {
			return nil, apiErrs[0]
		}
		return nil, fmt.Errorf("bridge self-description: %w", ErrNotFound)
	}
	return &bridges[0], nil
}

// put sends a JSON body and surfaces non-2xx and bridge-reported errors.
// Fire-and-confirm: no retries.
func (c *Client) put(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.Request(ctx, http.MethodPut, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("PUT %s: %w", path, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("PUT %s: status %d: %s", path, resp.StatusCode, string(raw))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && len(env.Errors) > 0 {
		return fmt.Errorf("PUT %s: %w", path, env.Errors[0])
	}
	return nil
}

// SetGroupedLight updates the aggregate state of a grouped_light
// service. Nil fields are left untouched on the bridge.
func (c *Client) SetGroupedLight(ctx context.Context, id string, on *bool, brightness *float64) error {
	payload := map[string]any{}
	if on != nil {
		payload["on"] = On{On: *on}
	}
	if brightness != nil {
		payload["dimming"] = Dimming{Brightness: *brightness}
	}
	if len(payload) == 0 {
		return nil
	}
	return c.put(ctx, "resource/grouped_light/"+id, payload)
}

// ActivateScene recalls a scene on its owning room or zone.
func (c *Client) ActivateScene(ctx context.Context, id string) error {
	payload := map[string]any{
		"recall": map[string]string{"action": "active"},
	}
	return c.put(ctx, "resource/scene/"+id, payload)
}

// CreateZone creates a zone containing the given light services and
// returns the new zone's id.
func (c *Client) CreateZone(ctx context.Context, name string, lightIDs []string) (string, error) {
	children := make([]ResourceRef, 0, len(lightIDs))
	for _, id := range lightIDs {
		children = append(children, ResourceRef{RID: id, RType: RTypeLight})
	}
	payload := map[string]any{
		"type":     "zone",
		"metadata": map[string]string{"name": name, "archetype": "other"},
		"children": children,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	resp, err := c.Request(ctx, http.MethodPost, "resource/zone", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("POST resource/zone: status %d: %s", resp.StatusCode, string(raw))
	}

	var env struct {
		Errors []APIError    `json:"errors"`
		Data   []ResourceRef `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("POST resource/zone: malformed response: %w", err)
	}
	if len(env.Data) == 0 {
		if len(env.Errors) > 0 {
			return "", env.Errors[0]
		}
		return "", errors.New("POST resource/zone: empty response")
	}
	return env.Data[0].RID, nil
}

// BulkLoad is the result of one full resource load from a bridge.
// Errors collects every bridge-reported partial error across the kinds.
type BulkLoad struct {
	Devices       []DeviceResource
	Lights        []LightResource
	Rooms         []GroupResource
	Zones         []GroupResource
	Scenes        []SceneResource
	GroupedLights []GroupedLightResource
	Errors        []APIError
}

// FetchAll performs the initial full load used after pairing or bridge
// activation. Transport failures abort the load; bridge-reported partial
// errors are collected and returned alongside the data.
func (c *Client) FetchAll(ctx context.Context) (*BulkLoad, error) {
	var load BulkLoad
	var apiErrs []APIError
	var err error

	if load.Devices, apiErrs, err = c.GetDevices(ctx); err != nil {
		return nil, err
	}
	load.Errors = append(load.Errors, apiErrs...)

	if load.Lights, apiErrs, err = c.GetLights(ctx); err != nil {
		return nil, err
	}
	load.Errors = append(load.Errors, apiErrs...)

	if load.Rooms, apiErrs, err = c.GetRooms(ctx); err != nil {
		return nil, err
	}
	load.Errors = append(load.Errors, apiErrs...)

	if load.Zones, apiErrs, err = c.GetZones(ctx); err != nil {
		return nil, err
	}
	load.Errors = append(load.Errors, apiErrs...)

	if load.Scenes, apiErrs, err = c.GetScenes(ctx); err != nil {
		return nil, err
	}
	load.Errors = append(load.Errors, apiErrs...)

	if load.GroupedLights, apiErrs, err = c.GetGroupedLights(ctx); err != nil {
		return nil, err
	}
	load.Errors = append(load.Errors, apiErrs...)

	return &load, nil
}
