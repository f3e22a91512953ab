package hue

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrMaxReconnectsExceeded is returned when the maximum number of
// reconnect attempts is exceeded.
var ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")

// EventStreamConfig contains reconnection settings for one stream.
type EventStreamConfig struct {
	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite
}

// EventStream holds one persistent SSE subscription to a bridge.
// One instance per active, credentialed bridge; events are tagged with
// the bridge id so they can be attributed downstream.
//
// The connected signal transitions false -> true -> false at most once
// per connect attempt: true once the bridge has begun sending events,
// false on close or failure.
type EventStream struct {
	bridgeID   string
	client     *Client
	httpClient *http.Client
	config     EventStreamConfig

	onStatus func(bridgeID string, connected bool)
	onEvent  func(Event)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewEventStream creates a stream for the given bridge. onStatus and
// onEvent are invoked from the stream's goroutine, in arrival order.
func NewEventStream(bridgeID string, client *Client, cfg EventStreamConfig, onStatus func(string, bool), onEvent func(Event)) *EventStream {
	return &EventStream{
		bridgeID: bridgeID,
		client:   client,
		// No timeout: SSE is a long-lived connection.
		httpClient: NewHTTPClient(0),
		config:     cfg,
		onStatus:   onStatus,
		onEvent:    onEvent,
	}
}

// BridgeID returns the id of the bridge this stream is subscribed to.
func (e *EventStream) BridgeID() string {
	return e.bridgeID
}

// Start opens the subscription in a background goroutine. If a prior
// subscription for this stream is still open it is cancelled first, so
// a bridge never holds duplicate subscriptions.
func (e *EventStream) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		cancel, done := e.cancel, e.done
		e.mu.Unlock()
		cancel()
		<-done
		e.mu.Lock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.running = true
	e.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
		}()
		if err := e.run(runCtx); err != nil {
			log.Error().Err(err).Str("bridge", e.bridgeID).Msg("Event stream terminated")
		}
	}()
}

// Stop cancels the subscription and waits for it to close. Idempotent.
func (e *EventStream) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
}

// run keeps the subscription open with exponential backoff between
// reconnect attempts. Returns ErrMaxReconnectsExceeded when the
// configured attempt budget is spent.
func (e *EventStream) run(ctx context.Context) error {
	retryCount := 0
	currentBackoff := e.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := e.connect(ctx)
		if connected {
			// The bridge had begun sending events; every open gets a
			// matching close before any retry.
			e.onStatus(e.bridgeID, false)
		}
		if ctx.Err() != nil {
			return nil
		}

		if err == nil && connected {
			// Clean close after a working session: reset the budget.
			retryCount = 0
			currentBackoff = e.config.MinBackoff
			continue
		}

		retryCount++
		if e.config.MaxReconnects > 0 && retryCount > e.config.MaxReconnects {
			log.Error().
				Str("bridge", e.bridgeID).
				Int("max_reconnects", e.config.MaxReconnects).
				Msg("Event stream: max reconnects exceeded, terminating")
			return ErrMaxReconnectsExceeded
		}

		log.Warn().
			Err(err).
			Str("bridge", e.bridgeID).
			Dur("backoff", currentBackoff).
			Int("retry", retryCount).
			Msg("Event stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(currentBackoff):
		}

		nextBackoff := time.Duration(float64(currentBackoff) * e.config.Multiplier)
		if nextBackoff > e.config.MaxBackoff {
			nextBackoff = e.config.MaxBackoff
		}
		currentBackoff = nextBackoff
	}
}

// connect opens one SSE connection and reads it until it closes.
// Returns whether the connected signal was raised during this attempt.
func (e *EventStream) connect(ctx context.Context) (bool, error) {
	url := fmt.Sprintf("https://%s/eventstream/clip/v2", e.client.Address())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("hue-application-key", e.client.Token())
	req.Header.Set("Accept", "text/event-stream")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false, fmt.Errorf("event stream: %w", ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("event stream: unexpected status code %d", resp.StatusCode)
	}

	log.Info().Str("bridge", e.bridgeID).Msg("Connected to bridge event stream")
	e.onStatus(e.bridgeID, true)

	scanner := bufio.NewScanner(resp.Body)
	var dataBuffer strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		// Greeting sent on connect
		if line == ": hi" {
			log.Debug().Str("bridge", e.bridgeID).Msg("Received event stream greeting")
			continue
		}

		// Empty line marks end of event
		if line == "" {
			if dataBuffer.Len() > 0 {
				e.dispatch(dataBuffer.String())
				dataBuffer.Reset()
			}
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			dataBuffer.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}

	if err := scanner.Err(); err != nil {
		return true, err
	}
	return true, nil
}

// dispatch parses one server message and emits its events individually,
// preserving per-message order.
func (e *EventStream) dispatch(data string) {
	events, err := ParseMessage(e.bridgeID, []byte(data))
	if err != nil {
		log.Warn().Err(err).Str("bridge", e.bridgeID).Str("data", data).Msg("Failed to parse event message")
		return
	}
	for _, ev := range events {
		e.onEvent(ev)
	}
}
