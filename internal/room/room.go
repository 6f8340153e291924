// Package room runs one actor per workspace. The actor owns every event of
// its room (joins, inbound frames, leaves and relayed frames) and handles
// them one at a time, so mutations of a workspace never interleave.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/referencer/refsync/internal/actions"
	"github.com/referencer/refsync/internal/actor"
	"github.com/referencer/refsync/internal/hub"
	"github.com/referencer/refsync/internal/logger"
	"github.com/referencer/refsync/internal/metrics"
	"github.com/referencer/refsync/internal/store"
	"github.com/referencer/refsync/internal/validate"
)

const publishTimeout = 2 * time.Second

// Publisher forwards broadcast frames to other server instances.
type Publisher interface {
	Publish(ctx context.Context, workspaceID string, frame []byte) error
}

type joinResult struct {
	clientID string
	err      error
}

type joinMsg struct {
	conn  hub.Conn
	reply chan joinResult
}

func (joinMsg) Type() string { return "join" }

type inboundMsg struct {
	clientID string
	data     []byte
}

func (inboundMsg) Type() string { return "inbound" }

type leaveMsg struct {
	clientID string
}

func (leaveMsg) Type() string { return "leave" }

type relayMsg struct {
	data []byte
}

func (relayMsg) Type() string { return "relay" }

// room is the actor of one workspace.
type room struct {
	workspaceID string
	store       store.Store
	hub         *hub.Hub
	publisher   Publisher
	metrics     *metrics.Metrics
	log         *logger.Logger
}

var _ actor.Actor = (*room)(nil)

func (r *room) ID() string { return r.workspaceID }

func (r *room) Start(ctx context.Context) error {
	r.log.Debug("Room started")
	return nil
}

func (r *room) Stop(ctx context.Context) error {
	r.log.Debug("Room stopped")
	return nil
}

func (r *room) Receive(ctx context.Context, msg actor.Message) error {
	switch m := msg.(type) {
	case joinMsg:
		clientID, err := r.join(ctx, m.conn)
		m.reply <- joinResult{clientID: clientID, err: err}
		return err
	case inboundMsg:
		r.handleMessage(ctx, m.clientID, m.data)
		return nil
	case leaveMsg:
		r.hub.Disconnect(r.workspaceID, m.clientID)
		return nil
	case relayMsg:
		r.hub.BroadcastRaw(r.workspaceID, m.data, "")
		return nil
	default:
		return fmt.Errorf("unexpected message %T", msg)
	}
}

// join registers the connection and sends it the current state. No other
// client sees the join.
func (r *room) join(ctx context.Context, conn hub.Conn) (string, error) {
	clientID := r.hub.Connect(r.workspaceID, conn)
	state, err := r.snapshot(ctx)
	if err == nil {
		err = r.hub.SendTo(r.workspaceID, clientID, ServerMessage{Type: MessageTypeState, Payload: state})
	}
	if err != nil {
		r.hub.Disconnect(r.workspaceID, clientID)
		return "", err
	}
	r.log.Debug("Client %s joined with %d layers and %d sections", clientID, len(state.Layers), len(state.Editors))
	return clientID, nil
}

func (r *room) snapshot(ctx context.Context) (*store.WorkspaceState, error) {
	if err := r.store.EnsureWorkspace(ctx, r.workspaceID); err != nil {
		return nil, fmt.Errorf("ensure workspace: %w", err)
	}
	state, err := r.store.GetState(ctx, r.workspaceID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return state, nil
}

func (r *room) handleMessage(ctx context.Context, clientID string, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.log.Warn("Dropping malformed frame from %s: %v", clientID, err)
		if r.metrics != nil {
			r.metrics.DroppedFrames.Inc()
		}
		return
	}

	start := time.Now()
	err := actions.Dispatch(ctx, r.store, r.workspaceID, msg.Type, msg.Payload)
	if err != nil {
		r.metrics.ObserveAction(actionLabel(msg.Type, err), resultOf(err), time.Since(start))
		r.log.Debug("Action %s from %s refused: %v", msg.Type, clientID, err)
		r.reply(clientID, ServerMessage{
			Type:      MessageTypeError,
			Payload:   ErrorPayload{Message: err.Error()},
			RequestID: msg.RequestID,
		})
		return
	}
	r.metrics.ObserveAction(msg.Type, metrics.ResultOK, time.Since(start))

	r.reply(clientID, ServerMessage{Type: MessageTypeAck, Payload: map[string]any{}, RequestID: msg.RequestID})

	frame, err := json.Marshal(ServerMessage{
		Type:           MessageTypeAction,
		Payload:        actionPayload(msg.Type, msg.Payload),
		SourceClientID: clientID,
		RequestID:      msg.RequestID,
	})
	if err != nil {
		r.log.Error("Failed to encode %s broadcast: %v", msg.Type, err)
		return
	}
	sent := r.hub.BroadcastRaw(r.workspaceID, frame, clientID)
	if r.metrics != nil {
		r.metrics.BroadcastSends.Add(float64(sent))
	}

	if r.publisher != nil {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := r.publisher.Publish(pctx, r.workspaceID, frame); err != nil {
			r.log.Warn("Failed to relay %s: %v", msg.Type, err)
		}
	}
}

func (r *room) reply(clientID string, msg ServerMessage) {
	err := r.hub.SendTo(r.workspaceID, clientID, msg)
	if err != nil && !errors.Is(err, hub.ErrConnectionGone) {
		r.log.Warn("Failed to send %s to %s: %v", msg.Type, clientID, err)
	}
}

// resultOf separates protocol errors from store failures.
func resultOf(err error) string {
	switch {
	case errors.Is(err, actions.ErrUnknownAction),
		errors.Is(err, validate.ErrMissingField),
		errors.Is(err, validate.ErrTypeMismatch):
		return metrics.ResultRejected
	default:
		return metrics.ResultFailed
	}
}

// actionLabel keeps client-chosen type names out of metric labels.
func actionLabel(actionType string, err error) string {
	if errors.Is(err, actions.ErrUnknownAction) {
		return metrics.ActionUnknown
	}
	return actionType
}
