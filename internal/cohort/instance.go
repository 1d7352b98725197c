// Package cohort runs live stage instances. Each instance owns one
// negotiation state and mutates it from a single goroutine; connections,
// acts and admin commands all arrive over channels, so no lock guards the
// state itself.
package cohort

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"parleylab/internal/engine"
	persistlog "parleylab/internal/persistence/log"
	"parleylab/internal/persistence/snapshot"
	"parleylab/internal/persistence/store"
	"parleylab/internal/payout"
	"parleylab/internal/protocol"
	"parleylab/internal/stage"
)

// ActEnvelope is one participant act delivered from a transport.
type ActEnvelope struct {
	ParticipantID string
	Act           protocol.ActMsg
}

// JoinRequest attaches a participant's outbound channel to the instance.
type JoinRequest struct {
	ParticipantID string
	Out           chan []byte
	Resp          chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	State   []byte
	Code    string
}

// AdminRequest is an operator intervention routed through the same loop
// as participant acts, so it serializes with them.
type AdminRequest struct {
	Act         string // engine.CmdTimeout or engine.CmdReassign
	Operator    string
	Participant string
	Detail      string
	Resp        chan error
}

// Sinks bundles the instance's persistence surfaces; any field may be nil.
type Sinks struct {
	Store      *store.Store
	TxnLog     *persistlog.TransactionLogger
	OvrLog     *persistlog.OverrideLogger
	ArchiveDir string
}

type Instance struct {
	key   store.Key
	cfg   stage.Config
	state *engine.State
	log   *log.Logger
	sinks Sinks

	inbox chan ActEnvelope
	join  chan JoinRequest
	leave chan string
	admin chan AdminRequest
	stop  chan struct{}

	clients map[string]chan []byte

	// persistedTxs counts history rows already written to the store, so
	// only newly resolved transactions are appended after each apply.
	persistedTxs int
}

func NewInstance(key store.Key, cfg stage.Config, state *engine.State, sinks Sinks, logger *log.Logger) *Instance {
	persisted := len(state.History)
	if state.Pending() != nil {
		persisted--
	}
	return &Instance{
		key:          key,
		cfg:          cfg,
		state:        state,
		log:          logger,
		sinks:        sinks,
		inbox:        make(chan ActEnvelope, 64),
		join:         make(chan JoinRequest, 8),
		leave:        make(chan string, 8),
		admin:        make(chan AdminRequest, 8),
		stop:         make(chan struct{}),
		clients:      map[string]chan []byte{},
		persistedTxs: persisted,
	}
}

func (in *Instance) Inbox() chan<- ActEnvelope  { return in.inbox }
func (in *Instance) Join() chan<- JoinRequest   { return in.join }
func (in *Instance) Leave() chan<- string       { return in.leave }
func (in *Instance) Admin() chan<- AdminRequest { return in.admin }

func (in *Instance) Stop() { close(in.stop) }

func (in *Instance) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-in.stop:
			return nil
		case req := <-in.join:
			in.handleJoin(req)
		case id := <-in.leave:
			delete(in.clients, id)
		case env := <-in.inbox:
			in.handleAct(env)
		case req := <-in.admin:
			in.handleAdmin(req)
		}
	}
}

func (in *Instance) handleJoin(req JoinRequest) {
	if !in.state.HasParticipant(req.ParticipantID) {
		req.Resp <- JoinResponse{Code: protocol.ErrStageDenied}
		return
	}
	if req.Out != nil {
		in.clients[req.ParticipantID] = req.Out
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ParticipantID:   req.ParticipantID,
		ExperimentID:    in.key.ExperimentID,
		CohortID:        in.key.CohortID,
		StageID:         in.key.StageID,
		StageKind:       string(in.state.Kind),
		Role:            in.roleOf(req.ParticipantID),
	}
	req.Resp <- JoinResponse{Welcome: welcome, State: in.encodeState()}
}

func (in *Instance) roleOf(participantID string) string {
	switch in.state.Kind {
	case engine.KindBargain:
		if in.state.Bargain.BuyerID == participantID {
			return "BUYER"
		}
		return "SELLER"
	case engine.KindGrid:
		if in.state.Grid.ControllerID == participantID {
			return "CONTROLLER"
		}
		return "RESPONDER"
	}
	return "TRADER"
}

func (in *Instance) handleAct(env ActEnvelope) {
	cmd, code := commandFor(env)
	if code != "" {
		in.ack(env, false, code)
		return
	}
	prev := in.state
	next, err := engine.Apply(prev, cmd)
	if err != nil {
		in.ack(env, false, codeFor(err))
		return
	}
	if next != prev {
		in.commit(next)
	}
	in.ack(env, true, "")
	if next != prev {
		in.broadcastState()
	}
}

func (in *Instance) handleAdmin(req AdminRequest) {
	cmd := engine.Command{
		Act:             req.Act,
		ExpectedVersion: in.state.Version,
		Participant:     req.Participant,
	}
	next, err := engine.Apply(in.state, cmd)
	if err != nil {
		req.Resp <- err
		return
	}
	if in.sinks.OvrLog != nil {
		_ = in.sinks.OvrLog.WriteOverride(persistlog.OverrideEntry{
			ExperimentID: in.key.ExperimentID,
			CohortID:     in.key.CohortID,
			StageID:      in.key.StageID,
			Operator:     req.Operator,
			Action:       req.Act,
			Detail:       req.Detail,
		})
	}
	if in.sinks.Store != nil {
		_ = in.sinks.Store.AppendOverride(context.Background(), store.OverrideRecord{
			Key:      in.key,
			Operator: req.Operator,
			Action:   req.Act,
			Detail:   req.Detail,
		})
	}
	in.commit(next)
	req.Resp <- nil
	in.broadcastState()
}

// commit swaps in the new state and pushes it to the persistence sinks.
// Persistence failures are logged, never propagated to participants: the
// in-memory instance remains authoritative for the live session.
func (in *Instance) commit(next *engine.State) {
	prevVersion := in.state.Version
	in.state = next

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if in.sinks.Store != nil {
		payload, err := json.Marshal(next)
		if err == nil {
			err = in.sinks.Store.SaveState(ctx, store.StateRecord{
				Key:      in.key,
				Version:  next.Version,
				GameOver: next.GameOver,
				Payload:  payload,
			}, prevVersion)
		}
		if err != nil && !errors.Is(err, store.ErrVersionConflict) {
			in.log.Printf("stage %s: save state v%d: %v", in.key, next.Version, err)
		}
	}

	resolved := len(next.History)
	if next.Pending() != nil {
		resolved--
	}
	for seq := in.persistedTxs; seq < resolved; seq++ {
		tx := next.History[seq]
		if in.sinks.TxnLog != nil {
			_ = in.sinks.TxnLog.WriteTransaction(persistlog.TransactionEntry{
				ExperimentID: in.key.ExperimentID,
				CohortID:     in.key.CohortID,
				StageID:      in.key.StageID,
				Version:      next.Version,
				Seq:          seq,
				Transaction:  tx,
			})
		}
		if in.sinks.Store != nil {
			payload, _ := json.Marshal(tx)
			if err := in.sinks.Store.AppendTransaction(ctx, store.TransactionRecord{
				Key:     in.key,
				Seq:     seq,
				Round:   tx.Round,
				Sender:  tx.Proposal.Sender,
				Status:  string(tx.Status),
				Payload: payload,
			}); err != nil {
				in.log.Printf("stage %s: append transaction %d: %v", in.key, seq, err)
			}
		}
	}
	in.persistedTxs = resolved

	if next.GameOver {
		in.archive(next)
	}
}

func (in *Instance) archive(final *engine.State) {
	if in.sinks.ArchiveDir == "" {
		return
	}
	arch := snapshot.ArchiveV1{
		Header: snapshot.Header{
			Version:      1,
			ExperimentID: in.key.ExperimentID,
			CohortID:     in.key.CohortID,
			StageID:      in.key.StageID,
			StateVersion: final.Version,
		},
		State:   final,
		Payouts: payout.Project(payout.Inputs{State: final}, in.cfg.Payout),
	}
	path := snapshot.Path(in.sinks.ArchiveDir, in.key.ExperimentID, in.key.CohortID, in.key.StageID)
	if err := snapshot.WriteArchive(path, arch); err != nil {
		in.log.Printf("stage %s: archive: %v", in.key, err)
		return
	}
	in.log.Printf("stage %s: archived terminal state v%d to %s", in.key, final.Version, path)
}

func (in *Instance) ack(env ActEnvelope, accepted bool, code string) {
	out, ok := in.clients[env.ParticipantID]
	if !ok {
		return
	}
	ack := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          env.Act.ActID,
		Accepted:        accepted,
		Code:            code,
		Version:         in.state.Version,
	}
	b, err := json.Marshal(ack)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
		// Slow consumer; it will resync from the next state push.
	}
}

func (in *Instance) encodeState() []byte {
	raw, err := json.Marshal(in.state)
	if err != nil {
		return nil
	}
	msg := protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		ExperimentID:    in.key.ExperimentID,
		CohortID:        in.key.CohortID,
		StageID:         in.key.StageID,
		Version:         in.state.Version,
		State:           raw,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return b
}

// broadcastState pushes the full authoritative state to every connected
// participant. Full snapshots keep reconnecting clients trivially correct.
func (in *Instance) broadcastState() {
	b := in.encodeState()
	if b == nil {
		return
	}
	for id, out := range in.clients {
		select {
		case out <- b:
		default:
			in.log.Printf("stage %s: dropping state push to %s (queue full)", in.key, id)
		}
	}
}

// commandFor translates a wire act into an engine command.
func commandFor(env ActEnvelope) (engine.Command, string) {
	cmd := engine.Command{
		ActID:           env.Act.ActID,
		ExpectedVersion: env.Act.ExpectedVersion,
		Participant:     env.ParticipantID,
	}
	switch env.Act.Act {
	case protocol.ActReady:
		cmd.Act = engine.CmdReady
	case protocol.ActClaim:
		cmd.Act = engine.CmdClaim
	case protocol.ActPropose:
		cmd.Act = engine.CmdPropose
		cmd.Proposal = engine.Proposal{
			Give:  engine.Delta(env.Act.Give),
			Take:  engine.Delta(env.Act.Take),
			Price: env.Act.Price,
		}
		if env.Act.Target != nil {
			cmd.Proposal.Target = &engine.Coord{Row: env.Act.Target.Row, Col: env.Act.Target.Col}
		}
	case protocol.ActRespond:
		cmd.Act = engine.CmdRespond
		cmd.Accept = env.Act.Accept
	default:
		return cmd, protocol.ErrProtoBadRequest
	}
	return cmd, ""
}

// codeFor maps engine errors to wire error codes.
func codeFor(err error) string {
	switch {
	case errors.Is(err, engine.ErrStaleState):
		return protocol.ErrStale
	case errors.Is(err, engine.ErrNotYourTurn):
		return protocol.ErrNotYourTurn
	case errors.Is(err, engine.ErrMalformedProposal):
		return protocol.ErrMalformed
	case errors.Is(err, engine.ErrInsufficientResources):
		return protocol.ErrNoResource
	case errors.Is(err, engine.ErrProposalAlreadyPending):
		return protocol.ErrProposalPending
	case errors.Is(err, engine.ErrNotTheRespondent):
		return protocol.ErrNotRespondent
	case errors.Is(err, engine.ErrTurnAlreadyClaimed):
		return protocol.ErrTurnClaimed
	case errors.Is(err, engine.ErrAlreadyResponded):
		return protocol.ErrAlreadyReplied
	case errors.Is(err, engine.ErrGameAlreadyOver):
		return protocol.ErrGameOver
	case errors.Is(err, engine.ErrNotStarted), errors.Is(err, engine.ErrUnknownParticipant):
		return protocol.ErrStageDenied
	default:
		return protocol.ErrInternal
	}
}
