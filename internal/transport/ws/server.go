package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"parleylab/internal/cohort"
	"parleylab/internal/persistence/store"
	"parleylab/internal/protocol"
)

type Server struct {
	registry *cohort.Registry
	log      *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(registry *cohort.Registry, logger *log.Logger) *Server {
	return &Server{
		registry: registry,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		in, participantID, out := s.handshake(conn)
		if in == nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			if base.Type != protocol.TypeAct {
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				continue
			}
			if act.ProtocolVersion != protocol.Version {
				continue
			}
			in.Inbox() <- cohort.ActEnvelope{ParticipantID: participantID, Act: act}
		}

		// Cleanup.
		in.Leave() <- participantID
	}
}

func (s *Server) handshake(conn *websocket.Conn) (in *cohort.Instance, participantID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return nil, "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil, "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closePolicy(conn, "bad protocol_version")
		return nil, "", nil
	}
	if hello.ParticipantID == "" {
		closePolicy(conn, "missing participant_id")
		return nil, "", nil
	}

	key := store.Key{
		ExperimentID: hello.ExperimentID,
		CohortID:     hello.CohortID,
		StageID:      hello.StageID,
	}
	instance, err := s.registry.Get(key)
	if err != nil {
		_ = writeJSON(conn, protocol.AckMsg{
			Type:            protocol.TypeAck,
			ProtocolVersion: protocol.Version,
			Code:            protocol.ErrStageNotFound,
			Message:         "no such stage instance",
		})
		return nil, "", nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 16
	}
	if maxQ > 128 {
		maxQ = 128
	}
	out = make(chan []byte, maxQ)

	respCh := make(chan cohort.JoinResponse, 1)
	instance.Join() <- cohort.JoinRequest{
		ParticipantID: hello.ParticipantID,
		Out:           out,
		Resp:          respCh,
	}
	resp := <-respCh
	if resp.Code != "" {
		_ = writeJSON(conn, protocol.AckMsg{
			Type:            protocol.TypeAck,
			ProtocolVersion: protocol.Version,
			Code:            resp.Code,
			Message:         "join refused",
		})
		return nil, "", nil
	}

	// Welcome plus the full current state, so a reconnecting client needs
	// no catch-up protocol.
	if err := writeJSON(conn, resp.Welcome); err != nil {
		return nil, "", nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, resp.State); err != nil {
		return nil, "", nil
	}

	return instance, hello.ParticipantID, out
}

func closePolicy(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
