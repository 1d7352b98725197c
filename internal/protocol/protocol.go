package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeState   = "STATE"
	TypeAct     = "ACT"
	TypeAck     = "ACK"
)

// Act kinds carried inside an ACT message.
const (
	ActReady   = "READY"
	ActClaim   = "CLAIM"
	ActPropose = "PROPOSE"
	ActRespond = "RESPOND"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
