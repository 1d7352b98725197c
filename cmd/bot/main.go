package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"parleylab/internal/engine"
	"parleylab/internal/protocol"
)

// The bot joins one stage and plays legal moves at random: it signals
// readiness, claims the controller seat when one is open, proposes
// arbitrary-but-valid offers on its turn and flips a coin on responses.
// Acts nacked with E_STALE are retried against the fresh version with a
// bounded backoff; every other nack drops the act.
func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name       = flag.String("name", "bot", "participant public id")
		experiment = flag.String("experiment", "exp1", "experiment id")
		cohortID   = flag.String("cohort", "c1", "cohort id")
		stageID    = flag.String("stage", "", "stage id")
		seed       = flag.Int64("seed", 0, "rng seed (0 = time-based)")
	)
	flag.Parse()
	if *stageID == "" {
		log.Fatal("bot: -stage is required")
	}

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ParticipantID:   *name,
		ExperimentID:    *experiment,
		CohortID:        *cohortID,
		StageID:         *stageID,
		MaxQueue:        16,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	b := &bot{
		conn:   conn,
		logger: logger,
		id:     *name,
		rng:    rand.New(rand.NewSource(s)),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("read: %v", err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME stage=%s kind=%s role=%s", w.StageID, w.StageKind, w.Role)

		case protocol.TypeState:
			var sm protocol.StateMsg
			if err := json.Unmarshal(msg, &sm); err != nil {
				continue
			}
			var state engine.State
			if err := json.Unmarshal(sm.State, &state); err != nil {
				continue
			}
			b.onState(&state)

		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			b.onAck(ack)
		}
	}
}

type bot struct {
	conn   *websocket.Conn
	logger *log.Logger
	id     string
	rng    *rand.Rand

	state   *engine.State
	last    *protocol.ActMsg // last sent, pending ack
	retries int
	seq     int
}

func (b *bot) onState(state *engine.State) {
	b.state = state
	if state.GameOver {
		b.logger.Printf("game over after %d rounds", state.Round)
		return
	}
	if b.last != nil {
		return // wait for the ack before acting on the new snapshot
	}
	b.act()
}

func (b *bot) onAck(ack protocol.AckMsg) {
	if b.last == nil || ack.AckFor != b.last.ActID {
		return
	}
	if ack.Accepted {
		b.last, b.retries = nil, 0
		return
	}
	if protocol.Retryable(ack.Code) && b.retries < 5 {
		// The instance broadcasts fresh state alongside stale nacks;
		// resend the same intent against the version we hold now.
		b.retries++
		retry := *b.last
		retry.ActID = b.nextActID()
		retry.ExpectedVersion = b.version()
		time.Sleep(time.Duration(b.retries) * 100 * time.Millisecond)
		b.send(retry)
		return
	}
	b.logger.Printf("act %s refused: %s %s", ack.AckFor, ack.Code, ack.Message)
	b.last, b.retries = nil, 0
	b.act()
}

// act picks one legal move for the current snapshot, or does nothing when
// it is not our turn to move.
func (b *bot) act() {
	s := b.state
	if s == nil || s.GameOver {
		return
	}
	switch s.Phase {
	case engine.PhaseAwaitingStart:
		if s.Ready[b.id] {
			return
		}
		if s.Kind == engine.KindGrid && s.Grid.ControllerID == "" {
			b.send(b.newAct(protocol.ActClaim))
			return
		}
		b.send(b.newAct(protocol.ActReady))

	case engine.PhaseAwaitingProposal, engine.PhaseRoundComplete:
		if s.TurnHolder != b.id {
			return
		}
		b.propose()

	case engine.PhaseAwaitingResponse:
		pending := s.Pending()
		if pending == nil || pending.Proposal.Sender == b.id {
			return
		}
		if _, replied := pending.Responses[b.id]; replied {
			return
		}
		act := b.newAct(protocol.ActRespond)
		act.Accept = b.chooseAccept(pending)
		b.send(act)
	}
}

func (b *bot) propose() {
	s := b.state
	act := b.newAct(protocol.ActPropose)
	switch s.Kind {
	case engine.KindChip:
		give, take := b.chipOffer()
		if give == nil {
			return
		}
		act.Give, act.Take = give, take
	case engine.KindBargain:
		act.Price = b.bargainPrice()
	case engine.KindGrid:
		target := b.gridStep()
		if target == nil {
			return
		}
		act.Target = target
	default:
		return
	}
	b.send(act)
}

// chipOffer gives one chip of a kind we hold and asks one chip of another
// kind in return.
func (b *bot) chipOffer() (give, take map[string]int) {
	holdings := b.state.Chip.Ledger[b.id]
	var held []string
	for kind, n := range holdings {
		if n > 0 {
			held = append(held, kind)
		}
	}
	if len(held) == 0 {
		return nil, nil
	}
	giveKind := held[b.rng.Intn(len(held))]

	var others []string
	for kind := range b.state.Chip.Values[b.id] {
		if kind != giveKind {
			others = append(others, kind)
		}
	}
	if len(others) == 0 {
		others = held
	}
	takeKind := others[b.rng.Intn(len(others))]
	return map[string]int{giveKind: 1}, map[string]int{takeKind: 1}
}

// bargainPrice offers a price biased toward our own valuation.
func (b *bot) bargainPrice() int {
	val := b.state.Bargain.Valuations[b.id]
	if val <= 0 {
		val = 1
	}
	jitter := b.rng.Intn(val/4 + 1)
	if b.id == b.state.Bargain.BuyerID {
		price := val - jitter
		if price < 1 {
			price = 1
		}
		return price
	}
	return val + jitter
}

// gridStep picks an adjacent on-board cell, preferring coins, then the exit.
func (b *bot) gridStep() *protocol.CoordRef {
	g := b.state.Grid
	candidates := []engine.Coord{
		{Row: g.Pos.Row - 1, Col: g.Pos.Col},
		{Row: g.Pos.Row + 1, Col: g.Pos.Col},
		{Row: g.Pos.Row, Col: g.Pos.Col - 1},
		{Row: g.Pos.Row, Col: g.Pos.Col + 1},
	}
	var legal []engine.Coord
	for _, c := range candidates {
		if c.Row < 0 || c.Row >= g.Rows || c.Col < 0 || c.Col >= g.Cols {
			continue
		}
		legal = append(legal, c)
	}
	if len(legal) == 0 {
		return nil
	}
	pick := legal[b.rng.Intn(len(legal))]
	for _, c := range legal {
		if c == g.End {
			pick = c
		}
	}
	for _, c := range legal {
		for _, coin := range g.Coins {
			if c == coin && !collected(g.Collected, coin) {
				pick = c
			}
		}
	}
	return &protocol.CoordRef{Row: pick.Row, Col: pick.Col}
}

// chooseAccept accepts anything we can afford and like, with a random
// tiebreak to keep games moving.
func (b *bot) chooseAccept(pending *engine.Transaction) bool {
	s := b.state
	switch s.Kind {
	case engine.KindChip:
		if !s.Chip.Ledger.Covers(b.id, pending.Proposal.Take) {
			return false
		}
		values := s.Chip.Values[b.id]
		gain := deltaValue(pending.Proposal.Give, values)
		cost := deltaValue(pending.Proposal.Take, values)
		if gain != cost {
			return gain > cost
		}
		return b.rng.Intn(2) == 0
	case engine.KindBargain:
		price := pending.Proposal.Price
		val := s.Bargain.Valuations[b.id]
		if b.id == s.Bargain.BuyerID {
			return price <= val
		}
		return price >= val
	default:
		return b.rng.Intn(4) != 0 // mostly cooperative responder
	}
}

func (b *bot) newAct(kind string) protocol.ActMsg {
	return protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Act:             kind,
		ActID:           b.nextActID(),
		ParticipantID:   b.id,
		ExpectedVersion: b.version(),
	}
}

func (b *bot) nextActID() string {
	b.seq++
	return fmt.Sprintf("%s-%d", b.id, b.seq)
}

func (b *bot) version() uint64 {
	if b.state == nil {
		return 0
	}
	return b.state.Version
}

func (b *bot) send(act protocol.ActMsg) {
	if err := b.conn.WriteJSON(act); err != nil {
		b.logger.Printf("send %s: %v", act.Act, err)
		return
	}
	b.last = &act
}

func deltaValue(d, values engine.Delta) int {
	total := 0
	for chipID, n := range d {
		total += n * values[chipID]
	}
	return total
}

func collected(collected []engine.Coord, c engine.Coord) bool {
	for _, got := range collected {
		if got == c {
			return true
		}
	}
	return false
}
