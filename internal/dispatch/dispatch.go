// Package dispatch turns inbound frames into registry operations. The
// transport hands every frame to HandleMessage, which queues the work on the
// worker pool so the read loop never blocks on room state.
package dispatch

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/parley"
	"github.com/luciancaetano/parley/internal/metrics"
	"github.com/luciancaetano/parley/internal/pool"
	"github.com/luciancaetano/parley/internal/protocol"
	"github.com/luciancaetano/parley/internal/room"
)

// Dispatcher executes chat commands against a registry.
type Dispatcher struct {
	registry *room.Registry
	pool     *pool.Pool
	logger   zerolog.Logger
}

// New creates a dispatcher that runs commands on p.
func New(registry *room.Registry, p *pool.Pool, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		pool:     p,
		logger:   logger.With().Str("component", "dispatch").Logger(),
	}
}

// HandleMessage has the parley.MessageHandler signature. It never blocks the
// read loop: the command is queued, or dropped and logged when the pool is
// full or shut down. Text and binary frames are treated alike.
func (d *Dispatcher) HandleMessage(conn parley.Connection, kind parley.FrameKind, data []byte) {
	raw := string(data)

	err := d.pool.Enqueue(func() {
		if err := d.Process(context.Background(), conn, raw); err != nil {
			d.logger.Debug().
				Err(err).
				Str("conn_id", conn.ID()).
				Msg("command rejected")
		}
	})
	if err != nil {
		reason := "pool_closed"
		if errors.Is(err, pool.ErrQueueFull) {
			reason = "queue_full"
		}
		metrics.DispatchErrors.WithLabelValues(reason).Inc()
		d.logger.Warn().
			Err(err).
			Str("conn_id", conn.ID()).
			Stringer("frame", kind).
			Msg("dropping command")
	}
}

// Process parses and executes one command for conn. Any failure is answered
// with exactly one text reply to conn; the error is returned for logging only.
func (d *Dispatcher) Process(ctx context.Context, conn parley.Connection, raw string) error {
	req, err := protocol.Parse(raw)
	if err == nil {
		metrics.CommandsHandled.WithLabelValues(req.Command).Inc()
		err = d.execute(ctx, conn, req)
	}
	if err != nil {
		reply, reason := replyFor(req.Command, err)
		metrics.DispatchErrors.WithLabelValues(reason).Inc()
		d.reply(ctx, conn, reply)
	}
	return err
}

func (d *Dispatcher) execute(ctx context.Context, conn parley.Connection, req protocol.Request) error {
	switch req.Command {
	case parley.CmdCreate:
		code, err := d.registry.CreateRoom()
		if err != nil {
			return err
		}
		d.reply(ctx, conn, code)
		return nil

	case parley.CmdJoin:
		return d.registry.WithRoom(req.RoomCode, func(r *room.Room) error {
			// The transport closes a connection before its disconnect
			// cleanup runs under this same lock, so a JOIN that was queued
			// behind the disconnect sees a dead connection here.
			if !conn.IsAlive() {
				d.logger.Debug().
					Str("conn_id", conn.ID()).
					Str("room_code", req.RoomCode).
					Msg("ignoring join from closed connection")
				return nil
			}
			r.AddMember(req.Username, conn)
			r.SendHistory(ctx, conn)
			return nil
		})

	case parley.CmdMessage:
		return d.broadcast(ctx, conn, req.RoomCode, room.KindText, []byte(req.Text))

	case parley.CmdVoice:
		return d.broadcast(ctx, conn, req.RoomCode, room.KindVoice, req.Audio)

	case parley.CmdListChatrooms:
		codes := d.registry.ListCodes()
		payload, err := protocol.EncodeRoomList(codes)
		if err != nil {
			return err
		}
		d.logger.Debug().Int("rooms", len(codes)).Msg("listing rooms")
		d.reply(ctx, conn, string(payload))
		return nil
	}

	// Parse only returns known commands without an error.
	return protocol.ErrUnknownCommand
}

// broadcast sends content to the room as the member bound to conn.
func (d *Dispatcher) broadcast(ctx context.Context, conn parley.Connection, code string, kind room.Kind, content []byte) error {
	return d.registry.WithRoom(code, func(r *room.Room) error {
		m, ok := r.Member(conn.ID())
		if !ok {
			return room.ErrMemberNotFound
		}
		r.Broadcast(ctx, m.Username, kind, content)
		return nil
	})
}

func (d *Dispatcher) reply(ctx context.Context, conn parley.Connection, text string) {
	if err := conn.Send(ctx, parley.TextFrame, []byte(text)); err != nil {
		metrics.SendFailures.WithLabelValues("reply").Inc()
		d.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("reply failed")
	}
}

// replyFor maps a command failure to the client-facing reply and a metric
// label.
func replyFor(command string, err error) (reply, reason string) {
	switch {
	case errors.Is(err, protocol.ErrDecode):
		return parley.ReplyInvalidVoice, "invalid_voice"
	case errors.Is(err, room.ErrRoomNotFound):
		// Only JOIN names the room as the problem. MSG and VOICE to an
		// unknown room mean the caller cannot be a member of it.
		if command == parley.CmdJoin {
			return parley.ReplyInvalidRoom, "invalid_room"
		}
		return parley.ReplyUserNotFound, "not_member"
	case errors.Is(err, room.ErrMemberNotFound):
		return parley.ReplyUserNotFound, "not_member"
	case errors.Is(err, room.ErrRegistryClosed):
		return parley.ReplyUnavailable, "shutting_down"
	case errors.Is(err, room.ErrCodeSpaceExhausted):
		return parley.ReplyNoFreeRooms, "code_space_exhausted"
	case errors.Is(err, protocol.ErrUnknownCommand), errors.Is(err, protocol.ErrMalformed):
		return parley.ReplyUnknownCommand, "unknown_command"
	default:
		return parley.ReplyInternalError, "internal"
	}
}
