package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	stateSchema := compile("state.schema.json")
	actSchema := compile("act.schema.json")
	ackSchema := compile("ack.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "participant_id":"alice",
	  "experiment_id":"exp1",
	  "cohort_id":"c1",
	  "stage_id":"chip-1",
	  "max_queue":16
	}`), &hello)
	validate(helloSchema, hello)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "participant_id":"alice",
	  "experiment_id":"exp1",
	  "cohort_id":"c1",
	  "stage_id":"chip-1",
	  "stage_kind":"CHIP",
	  "role":"TRADER"
	}`), &welcome)
	validate(welcomeSchema, welcome)

	var state any
	_ = json.Unmarshal([]byte(`{
	  "type":"STATE",
	  "protocol_version":"1.0",
	  "experiment_id":"exp1",
	  "cohort_id":"c1",
	  "stage_id":"chip-1",
	  "version":3,
	  "state":{
	    "kind":"CHIP",
	    "stage_id":"chip-1",
	    "version":3,
	    "phase":"AWAITING_RESPONSE",
	    "round":1,
	    "turn_holder":"alice",
	    "participants":["alice","bob"],
	    "ready":{"alice":true,"bob":true},
	    "history":[
	      {"round":0,"proposal":{"act_id":"a-1","sender":"alice","give":{"gold":1},"take":{"silver":2}},"responses":{"bob":true},"status":"ACCEPTED","recipient":"bob"},
	      {"round":1,"proposal":{"act_id":"b-1","sender":"bob","give":{"silver":1},"take":{"gold":1}},"status":"PENDING"}
	    ],
	    "is_game_over":false,
	    "chip":{"ledger":{"alice":{"gold":9,"silver":2},"bob":{"gold":1,"silver":6}},"values":{"alice":{"gold":2,"silver":4},"bob":{"gold":3,"silver":1}},"max_rounds":6}
	  }
	}`), &state)
	validate(stateSchema, state)

	var act any
	_ = json.Unmarshal([]byte(`{
	  "type":"ACT",
	  "protocol_version":"1.0",
	  "act":"PROPOSE",
	  "act_id":"alice-7",
	  "participant_id":"alice",
	  "expected_version":3,
	  "give":{"gold":1},
	  "take":{"silver":2}
	}`), &act)
	validate(actSchema, act)

	var respond any
	_ = json.Unmarshal([]byte(`{
	  "type":"ACT",
	  "protocol_version":"1.0",
	  "act":"RESPOND",
	  "act_id":"bob-4",
	  "participant_id":"bob",
	  "expected_version":4,
	  "accept":true
	}`), &respond)
	validate(actSchema, respond)

	var ack any
	_ = json.Unmarshal([]byte(`{
	  "type":"ACK",
	  "protocol_version":"1.0",
	  "ack_for":"alice-7",
	  "accepted":false,
	  "code":"E_STALE",
	  "message":"expected version 3, at 5",
	  "version":5
	}`), &ack)
	validate(ackSchema, ack)
}
