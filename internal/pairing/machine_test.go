package pairing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scottbiggs/Pauls-app-sub000/internal/hue"
)

// fakeCommitter records commits and simulates already-paired addresses.
type fakeCommitter struct {
	mu        sync.Mutex
	paired    map[string]bool
	committed []string
	commitErr error
}

func (c *fakeCommitter) HasAddress(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paired[address]
}

func (c *fakeCommitter) Commit(_ context.Context, bridgeID, address string, creds hue.Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.commitErr != nil {
		return c.commitErr
	}
	c.committed = append(c.committed, bridgeID)
	return nil
}

// fakeBridge serves the endpoints a pairing run touches. The register
// responses are consumed in order, so a test can answer
// "button not pressed" first and grant a credential on retry.
type fakeBridge struct {
	mu        sync.Mutex
	registers []string
}

func (f *fakeBridge) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/0/config", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"bridgeid": "001788fffe23f0aa"})
	})

	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.registers) == 0 {
			t.Error("unexpected registration request")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body := f.registers[0]
		f.registers = f.registers[1:]
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	})

	mux.HandleFunc("/clip/v2/resource/bridge", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []any{},
			"data": []map[string]any{
				{"id": "aaaa-bbbb", "bridge_id": "001788fffe23f0aa"},
			},
		})
	})

	return mux
}

const (
	buttonNotPressedBody = `[{"error":{"type":101,"address":"","description":"link button not pressed"}}]`
	successBody          = `[{"success":{"username":"app-key-123","clientkey":"cccc"}}]`
)

func startBridge(t *testing.T, fb *fakeBridge) string {
	t.Helper()
	srv := httptest.NewTLSServer(fb.handler(t))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "https://")
}

func newTestMachine(committer Committer) *Machine {
	return NewMachine("flockd#test", 2*time.Second, committer)
}

func TestSubmitIPErrors(t *testing.T) {
	tests := []struct {
		name     string
		ip       string
		paired   bool
		expected IPErrorReason
	}{
		{name: "malformed", ip: "not-an-ip", expected: IPErrorBadFormat},
		{name: "malformed_partial", ip: "192.168.1", expected: IPErrorBadFormat},
		{name: "unreachable", ip: "127.0.0.1:1", expected: IPErrorNoBridgeAtIP},
		{name: "already_paired", ip: "10.0.0.5", paired: true, expected: IPErrorAlreadyPaired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			committer := &fakeCommitter{paired: map[string]bool{}}
			if tt.paired {
				committer.paired[tt.ip] = true
			}

			m := newTestMachine(committer)
			m.Begin()

			if state := m.SubmitIP(context.Background(), tt.ip); state != StateIPError {
				t.Fatalf("expected StateIPError, got %v", state)
			}
			if m.IPError() != tt.expected {
				t.Fatalf("expected reason %v, got %v", tt.expected, m.IPError())
			}

			// Acknowledging returns to IP entry.
			if state := m.AcknowledgeError(); state != StateAwaitingIP {
				t.Fatalf("expected StateAwaitingIP after ack, got %v", state)
			}
		})
	}
}

func TestButtonNotPushedStaysInButtonStage(t *testing.T) {
	fb := &fakeBridge{registers: []string{buttonNotPressedBody, successBody}}
	addr := startBridge(t, fb)
	committer := &fakeCommitter{paired: map[string]bool{}}

	m := newTestMachine(committer)
	m.Begin()

	if state := m.SubmitIP(context.Background(), addr); state != StateAwaitingButtonPress {
		t.Fatalf("expected StateAwaitingButtonPress, got %v (ip error %v)", state, m.IPError())
	}

	// First attempt: the bridge reports the button was not pressed.
	if state := m.ConfirmButtonPressed(context.Background()); state != StateButtonError {
		t.Fatalf("expected StateButtonError, got %v", state)
	}
	if m.ButtonError() != ButtonErrorButtonNotPushed {
		t.Fatalf("expected ButtonErrorButtonNotPushed, got %v", m.ButtonError())
	}
	if len(committer.committed) != 0 {
		t.Fatal("button-not-pushed must never reach commit")
	}

	// Retry does not revisit IP entry.
	if state := m.AcknowledgeError(); state != StateAwaitingButtonPress {
		t.Fatalf("expected StateAwaitingButtonPress after ack, got %v", state)
	}

	// Second attempt succeeds and only then advances to commit.
	if state := m.ConfirmButtonPressed(context.Background()); state != StateCommitting {
		t.Fatalf("expected StateCommitting, got %v", state)
	}
	if state := m.Commit(context.Background()); state != StateDone {
		t.Fatalf("expected StateDone, got %v", state)
	}
	if len(committer.committed) != 1 || committer.committed[0] != "001788fffe23f0aa" {
		t.Fatalf("expected bridge committed by stable id, got %v", committer.committed)
	}
}

func TestUnparsableRegistrationResponse(t *testing.T) {
	fb := &fakeBridge{registers: []string{`{not json`}}
	addr := startBridge(t, fb)

	m := newTestMachine(&fakeCommitter{paired: map[string]bool{}})
	m.Begin()
	if state := m.SubmitIP(context.Background(), addr); state != StateAwaitingButtonPress {
		t.Fatalf("expected StateAwaitingButtonPress, got %v", state)
	}

	if state := m.ConfirmButtonPressed(context.Background()); state != StateButtonError {
		t.Fatalf("expected StateButtonError, got %v", state)
	}
	if m.ButtonError() != ButtonErrorUnparsableResponse {
		t.Fatalf("expected ButtonErrorUnparsableResponse, got %v", m.ButtonError())
	}
}

func TestCommitErrorIsTerminal(t *testing.T) {
	fb := &fakeBridge{registers: []string{successBody}}
	addr := startBridge(t, fb)
	committer := &fakeCommitter{paired: map[string]bool{}, commitErr: context.DeadlineExceeded}

	m := newTestMachine(committer)
	m.Begin()
	m.SubmitIP(context.Background(), addr)

	if state := m.ConfirmButtonPressed(context.Background()); state != StateCommitting {
		t.Fatalf("expected StateCommitting, got %v", state)
	}
	if state := m.Commit(context.Background()); state != StateCommitError {
		t.Fatalf("expected StateCommitError, got %v", state)
	}

	// Terminal for this run; a fresh run starts from Idle.
	if state := m.Reset(); state != StateIdle {
		t.Fatalf("expected StateIdle after reset, got %v", state)
	}
}

func TestBackNavigation(t *testing.T) {
	fb := &fakeBridge{}
	addr := startBridge(t, fb)

	m := newTestMachine(&fakeCommitter{paired: map[string]bool{}})
	m.Begin()
	if state := m.SubmitIP(context.Background(), addr); state != StateAwaitingButtonPress {
		t.Fatalf("expected StateAwaitingButtonPress, got %v", state)
	}

	if state := m.Back(); state != StateAwaitingIP {
		t.Fatalf("expected StateAwaitingIP, got %v", state)
	}
	if m.CandidateIP() != "" {
		t.Fatal("back navigation must discard the candidate IP")
	}
	if state := m.Back(); state != StateIdle {
		t.Fatalf("expected StateIdle, got %v", state)
	}
}
