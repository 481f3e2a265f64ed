// Package session manages the admin-issued attendance window: minting
// join tokens, validating joining devices, and rendering join QR codes.
package session

import (
	"sync"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"taptendance/internal/netid"
	"taptendance/internal/payload"
)

// QR render sizes, in pixels, matching the admin and student cards.
const (
	SessionQRSize    = 320
	AttendanceQRSize = 500
)

// JoinStatus is the outcome of a join attempt.
type JoinStatus int

const (
	// JoinAccepted: the device may submit one attendance payload.
	JoinAccepted JoinStatus = iota
	// JoinNetworkMismatch: the device is not on the admin's subnet.
	JoinNetworkMismatch
	// JoinMalformed: the link's envelope did not parse.
	JoinMalformed
)

func (s JoinStatus) String() string {
	switch s {
	case JoinAccepted:
		return "accepted"
	case JoinNetworkMismatch:
		return "network_mismatch"
	default:
		return "malformed"
	}
}

// JoinResult carries the outcome and, when accepted, the token.
type JoinResult struct {
	Status JoinStatus
	Token  payload.SessionToken
}

// Manager owns at most one active session token at a time. Regeneration
// replaces it wholesale; tokens themselves are immutable.
type Manager struct {
	mu  sync.Mutex
	net *netid.Estimator
	tok *payload.SessionToken
	now func() time.Time
}

// NewManager creates a manager gated by the given proximity estimator.
func NewManager(est *netid.Estimator) *Manager {
	return &Manager{net: est, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Create mints a new session token stamped with the admin device's
// network signature, replacing any previous token.
func (m *Manager) Create(localSignature string) payload.SessionToken {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok := payload.SessionToken{
		AdminIP:   localSignature,
		Timestamp: m.now().UTC().Format(time.RFC3339),
	}
	m.tok = &tok
	return tok
}

// Active returns the current token, if any.
func (m *Manager) Active() (payload.SessionToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tok == nil {
		return payload.SessionToken{}, false
	}
	return *m.tok, true
}

// Join evaluates a join link for a device with the given local signature.
// It authorizes the client to submit attendance; it never writes records.
func (m *Manager) Join(encoded, localSignature string) JoinResult {
	tok, err := payload.DecodeSessionToken(encoded)
	if err != nil {
		return JoinResult{Status: JoinMalformed}
	}
	if !m.net.SameNetwork(localSignature, tok.AdminIP) {
		return JoinResult{Status: JoinNetworkMismatch}
	}
	return JoinResult{Status: JoinAccepted, Token: tok}
}

// JoinLink encodes the active token into a join URL for the given base.
func (m *Manager) JoinLink(baseURL string) (string, bool) {
	tok, ok := m.Active()
	if !ok {
		return "", false
	}
	link, err := payload.EncodeSessionLink(baseURL, tok)
	if err != nil {
		return "", false
	}
	return link, true
}

// SessionQR renders the join link as a PNG.
func SessionQR(link string) ([]byte, error) {
	return qrcode.Encode(link, qrcode.Low, SessionQRSize)
}

// AttendanceQR renders an encoded attendance payload as a PNG for the
// student to present to the scan station.
func AttendanceQR(encoded string) ([]byte, error) {
	return qrcode.Encode(encoded, qrcode.Low, AttendanceQRSize)
}
