package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrLinkButtonNotPressed is returned by Register when the bridge's
// physical link button has not been pressed within the preceding ~30s.
var ErrLinkButtonNotPressed = errors.New("link button not pressed")

// ErrMalformedRegisterResponse is returned when the registration
// response body does not parse into the expected shape.
var ErrMalformedRegisterResponse = errors.New("malformed registration response")

// linkButtonErrorType is the bridge error code for "link button not
// pressed" in the V1-style registration response.
const linkButtonErrorType = 101

// Credentials is the durable per-bridge credential granted by a
// successful registration.
type Credentials struct {
	Username  string `json:"username"`
	ClientKey string `json:"clientkey"`
}

// registerReply is one element of the registration response array. The
// bridge answers with either a success or an error object per element.
type registerReply struct {
	Success *Credentials `json:"success"`
	Error   *struct {
		Type        int    `json:"type"`
		Address     string `json:"address"`
		Description string `json:"description"`
	} `json:"error"`
}

// Register performs the button-press challenge-response registration
// against the bridge at address. The devicetype should be of the form
// "<app>#<instance>". Requires the human to have pressed the bridge's
// link button; otherwise ErrLinkButtonNotPressed is returned and the
// call may simply be retried.
func Register(ctx context.Context, httpClient *http.Client, address, devicetype string) (*Credentials, error) {
	payload := map[string]any{
		"devicetype":        devicetype,
		"generateclientkey": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("https://%s/api", address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("registration: unexpected status code %d", resp.StatusCode)
	}

	var replies []registerReply
	if err := json.NewDecoder(resp.Body).Decode(&replies); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRegisterResponse, err)
	}
	if len(replies) == 0 {
		return nil, ErrMalformedRegisterResponse
	}

	reply := replies[0]
	if reply.Error != nil {
		if reply.Error.Type == linkButtonErrorType {
			return nil, ErrLinkButtonNotPressed
		}
		return nil, fmt.Errorf("registration rejected: %s", reply.Error.Description)
	}
	if reply.Success == nil || reply.Success.Username == "" {
		return nil, fmt.Errorf("%w: no credential in success reply", ErrMalformedRegisterResponse)
	}
	return reply.Success, nil
}

// Probe checks whether something that speaks the bridge API answers at
// address. Uses the unauthenticated config endpoint so it works before
// pairing.
func Probe(ctx context.Context, httpClient *http.Client, address string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("https://%s/api/0/config", address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("no bridge at %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("no bridge at %s: status %d", address, resp.StatusCode)
	}

	var cfg struct {
		BridgeID string `json:"bridgeid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return fmt.Errorf("no bridge at %s: %w", address, err)
	}
	return nil
}
