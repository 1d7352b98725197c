package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ParticipantID   string `json:"participant_id"`
	ExperimentID    string `json:"experiment_id"`
	CohortID        string `json:"cohort_id"`
	StageID         string `json:"stage_id"`
	MaxQueue        int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ParticipantID   string `json:"participant_id"`
	ExperimentID    string `json:"experiment_id"`
	CohortID        string `json:"cohort_id"`
	StageID         string `json:"stage_id"`
	StageKind       string `json:"stage_kind"`
	Role            string `json:"role,omitempty"`
}

// STATE (server -> client): the full negotiation public state, pushed on
// every change. Clients re-render from the snapshot; no diffs.
type StateMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ExperimentID    string          `json:"experiment_id"`
	CohortID        string          `json:"cohort_id"`
	StageID         string          `json:"stage_id"`
	Version         uint64          `json:"version"`
	State           json.RawMessage `json:"state"`
}

// ACT (client -> server): a candidate move. ActID is a client-chosen
// idempotency key; ExpectedVersion makes the write a compare-and-swap
// against the last state the client saw.
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Act             string `json:"act"`
	ActID           string `json:"act_id"`
	ParticipantID   string `json:"participant_id"`
	ExpectedVersion uint64 `json:"expected_version"`

	// PROPOSE payloads. Chip offers fill give/take; bargain offers fill
	// price; grid moves fill target.
	Give   map[string]int `json:"give,omitempty"`
	Take   map[string]int `json:"take,omitempty"`
	Price  int            `json:"price,omitempty"`
	Target *CoordRef      `json:"target,omitempty"`

	// RESPOND payload.
	Accept bool `json:"accept,omitempty"`
}

type CoordRef struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Version         uint64 `json:"version,omitempty"`
}
