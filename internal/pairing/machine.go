// Package pairing drives the interactive button-press handshake that
// turns a candidate bridge IP into a credentialed, registered bridge.
package pairing

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scottbiggs/Pauls-app-sub000/internal/hue"
)

// State is the pairing state machine's position.
type State int

const (
	StateIdle State = iota
	StateAwaitingIP
	StateIPError
	StateAwaitingButtonPress
	StateButtonError
	StateCommitting
	StateDone
	StateCommitError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingIP:
		return "awaiting_ip"
	case StateIPError:
		return "ip_error"
	case StateAwaitingButtonPress:
		return "awaiting_button_press"
	case StateButtonError:
		return "button_error"
	case StateCommitting:
		return "committing"
	case StateDone:
		return "done"
	case StateCommitError:
		return "commit_error"
	default:
		return "unknown"
	}
}

// IPErrorReason qualifies StateIPError.
type IPErrorReason int

const (
	IPErrorNone IPErrorReason = iota
	IPErrorBadFormat
	IPErrorNoBridgeAtIP
	IPErrorAlreadyPaired
)

// ButtonErrorReason qualifies StateButtonError.
type ButtonErrorReason int

const (
	ButtonErrorNone ButtonErrorReason = iota
	ButtonErrorNoToken
	ButtonErrorButtonNotPushed
	ButtonErrorUnparsableResponse
	ButtonErrorUnsuccessfulResponse
)

// Committer is the registry-side collaborator that finalizes a pairing
// run: it knows which addresses are already paired and persists the new
// bridge on commit.
type Committer interface {
	// HasAddress reports whether a registered bridge already uses the
	// address.
	HasAddress(address string) bool

	// Commit adds the bridge to the registry and persists its
	// credential and address. Duplicate bridge ids must be rejected.
	Commit(ctx context.Context, bridgeID, address string, creds hue.Credentials) error
}

// Machine is one pairing run. It is driven by a single caller (the
// pairing UI flow) and is not safe for concurrent use.
type Machine struct {
	devicetype string
	timeout    time.Duration
	httpClient *http.Client
	committer  Committer

	state     State
	ipReason  IPErrorReason
	btnReason ButtonErrorReason

	candidateIP string
	creds       *hue.Credentials
}

// NewMachine creates a machine in StateIdle. The devicetype is the
// "<app>#<instance>" payload sent during registration.
func NewMachine(devicetype string, timeout time.Duration, committer Committer) *Machine {
	return &Machine{
		devicetype: devicetype,
		timeout:    timeout,
		httpClient: hue.NewHTTPClient(timeout),
		committer:  committer,
		state:      StateIdle,
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// IPError returns the reason while in StateIPError.
func (m *Machine) IPError() IPErrorReason { return m.ipReason }

// ButtonError returns the reason while in StateButtonError.
func (m *Machine) ButtonError() ButtonErrorReason { return m.btnReason }

// CandidateIP returns the IP under validation, if any.
func (m *Machine) CandidateIP() string { return m.candidateIP }

// Begin starts a run: Idle -> AwaitingIP.
func (m *Machine) Begin() State {
	if m.state == StateIdle {
		m.state = StateAwaitingIP
	}
	return m.state
}

// SubmitIP validates the candidate address: format, not already
// paired, then reachability. On success the run advances to the
// button-press stage.
func (m *Machine) SubmitIP(ctx context.Context, ip string) State {
	if m.state != StateAwaitingIP {
		return m.state
	}

	if !validAddress(ip) {
		return m.failIP(IPErrorBadFormat)
	}
	if m.committer.HasAddress(ip) {
		return m.failIP(IPErrorAlreadyPaired)
	}
	if err := hue.Probe(ctx, m.httpClient, ip, m.timeout); err != nil {
		log.Debug().Err(err).Str("ip", ip).Msg("Pairing: bridge probe failed")
		return m.failIP(IPErrorNoBridgeAtIP)
	}

	m.candidateIP = ip
	m.state = StateAwaitingButtonPress
	log.Info().Str("ip", ip).Msg("Pairing: bridge reachable, awaiting button press")
	return m.state
}

func (m *Machine) failIP(reason IPErrorReason) State {
	m.ipReason = reason
	m.state = StateIPError
	return m.state
}

// ConfirmButtonPressed sends the registration request. The human must
// have pressed the bridge's physical button within the preceding ~30s;
// that precondition is bridge-enforced and not checkable locally. On a
// button-not-pushed response the run stays in the button stage and the
// call may be retried without re-entering the IP.
func (m *Machine) ConfirmButtonPressed(ctx context.Context) State {
	if m.state != StateAwaitingButtonPress {
		return m.state
	}

	creds, err := hue.Register(ctx, m.httpClient, m.candidateIP, m.devicetype)
	switch {
	case err == nil && creds.Username == "":
		return m.failButton(ButtonErrorNoToken)
	case err == nil:
		m.creds = creds
		m.state = StateCommitting
		log.Info().Str("ip", m.candidateIP).Msg("Pairing: credential granted")
		return m.state
	case errors.Is(err, hue.ErrLinkButtonNotPressed):
		return m.failButton(ButtonErrorButtonNotPushed)
	case errors.Is(err, hue.ErrMalformedRegisterResponse):
		return m.failButton(ButtonErrorUnparsableResponse)
	default:
		log.Warn().Err(err).Str("ip", m.candidateIP).Msg("Pairing: registration failed")
		return m.failButton(ButtonErrorUnsuccessfulResponse)
	}
}

func (m *Machine) failButton(reason ButtonErrorReason) State {
	m.btnReason = reason
	m.state = StateButtonError
	return m.state
}

// Commit fetches the bridge's self-description to learn its stable id,
// then adds the bridge to the registry and persists the credential.
// Done and CommitError are terminal for this run.
func (m *Machine) Commit(ctx context.Context) State {
	if m.state != StateCommitting {
		return m.state
	}

	client := hue.NewClient(m.candidateIP, m.creds.Username, m.timeout)
	defer client.Close()

	bridge, err := client.GetBridge(ctx)
	if err != nil {
		log.Error().Err(err).Str("ip", m.candidateIP).Msg("Pairing: failed to fetch bridge identity")
		m.state = StateCommitError
		return m.state
	}

	if err := m.committer.Commit(ctx, bridge.BridgeID, m.candidateIP, *m.creds); err != nil {
		log.Error().Err(err).Str("bridge", bridge.BridgeID).Msg("Pairing: commit failed")
		m.state = StateCommitError
		return m.state
	}

	m.state = StateDone
	log.Info().Str("bridge", bridge.BridgeID).Str("ip", m.candidateIP).Msg("Pairing: bridge committed")
	return m.state
}

// AcknowledgeError returns an error state to its preceding stage:
// IPError back to AwaitingIP, ButtonError back to AwaitingButtonPress.
func (m *Machine) AcknowledgeError() State {
	switch m.state {
	case StateIPError:
		m.ipReason = IPErrorNone
		m.state = StateAwaitingIP
	case StateButtonError:
		m.btnReason = ButtonErrorNone
		m.state = StateAwaitingButtonPress
	}
	return m.state
}

// Back navigates to the previous stage, discarding in-flight candidate
// data. No other side effects.
func (m *Machine) Back() State {
	switch m.state {
	case StateAwaitingButtonPress, StateIPError:
		m.candidateIP = ""
		m.ipReason = IPErrorNone
		m.state = StateAwaitingIP
	case StateButtonError:
		m.btnReason = ButtonErrorNone
		m.state = StateAwaitingButtonPress
	case StateAwaitingIP:
		m.state = StateIdle
	}
	return m.state
}

// validAddress accepts a plain IP or an ip:port pair.
func validAddress(address string) bool {
	if host, _, err := net.SplitHostPort(address); err == nil {
		address = host
	}
	return net.ParseIP(address) != nil
}

// Reset discards the run entirely so a new one can start from Idle.
func (m *Machine) Reset() State {
	m.state = StateIdle
	m.ipReason = IPErrorNone
	m.btnReason = ButtonErrorNone
	m.candidateIP = ""
	m.creds = nil
	return m.state
}
