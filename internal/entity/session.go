package entity

import "time"

// CallSession is the live state of one bridge instance.
type CallSession struct {
	SessionID      string
	CallID         string
	OrganizationID string
	State          ConnectionState
	Transcript     []TranscriptEntry
	StartedAt      time.Time
}

type ConnectionState uint8

const (
	StateIdle       ConnectionState = 0
	StateConnecting ConnectionState = 1
	StateStreaming  ConnectionState = 2
	StateClosing    ConnectionState = 3
	StateClosed     ConnectionState = 4
	StateFailed     ConnectionState = 5
)

var ConnectionStateMap = map[ConnectionState]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateStreaming:  "streaming",
	StateClosing:    "closing",
	StateClosed:     "closed",
	StateFailed:     "failed",
}

func (s ConnectionState) String() string {
	return ConnectionStateMap[s]
}

func (s ConnectionState) Value() uint8 {
	return uint8(s)
}

func (s ConnectionState) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerAgent  Speaker = "agent"
	SpeakerSystem Speaker = "system"
)

type TranscriptEntry struct {
	ID        string    `json:"id"`
	CallID    string    `json:"call_id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// RealtimeSession is what the provisioning step hands to the bridge.
type RealtimeSession struct {
	SessionID           string
	EphemeralCredential string
	ExpiresAt           time.Time
	Instructions        string
	ToolSchema          []byte
}
