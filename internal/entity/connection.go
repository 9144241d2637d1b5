// Structure of the connection lifecycle model in the SecondInning client.

package entity

import "time"

// ConnectionStatus enumerates the states of the live server connection.
type ConnectionStatus int

const (
	// No transport open, nothing in flight.
	Disconnected ConnectionStatus = iota
	// First dial for the current identity is in flight.
	Connecting
	// Transport is open and the identity's rooms are joined.
	Connected
	// Transport was lost or a dial failed, automatic retries are running.
	Reconnecting
	// Reconnection budget spent, only a manual reconnect restarts it.
	Failed
)

// String returns the lowercase wire/log name of the status.
func (s ConnectionStatus) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ConnectionState is a read-only snapshot of the connection lifecycle.
// Status = Connected always implies Attempts = 0.
type ConnectionState struct {
	Status          ConnectionStatus
	Attempts        int
	LastConnectedAt time.Time
	LastError       string
	// Rooms confirmed by the server on the last join.
	Rooms []string
}

// Roles recognised by the SecondInning platform.
const (
	RolePlayer = "player"
	RoleParent = "parent"
	RoleCoach  = "coach"
	RoleAdmin  = "admin"
)

// Identity of the authenticated user, supplied by the upstream auth layer.
// The connection manager never dials without a valid one.
type Identity struct {
	ID   string `json:"id" valid:"required"`
	Role string `json:"role" valid:"required"`
}
