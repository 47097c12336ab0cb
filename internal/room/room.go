package room

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/parley"
	"github.com/luciancaetano/parley/internal/metrics"
)

// Kind distinguishes text messages from voice messages.
type Kind int

const (
	KindText Kind = iota + 1
	KindVoice
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindVoice:
		return "voice"
	default:
		return "unknown"
	}
}

// Member is a username bound to a connection. The room references the
// connection; it does not own it.
type Member struct {
	Username string
	Conn     parley.Connection
}

// Message is one entry of a room's log.
type Message struct {
	Sender    string
	Kind      Kind
	Text      string
	Audio     []byte
	Timestamp string
}

// Frame returns the outbound frame for m: "<sender>: <text>" as text, or
// the raw audio bytes as binary. Live broadcast and history replay share it.
func (m Message) Frame() (parley.FrameKind, []byte) {
	if m.Kind == KindVoice {
		return parley.BinaryFrame, m.Audio
	}
	return parley.TextFrame, []byte(m.Sender + ": " + m.Text)
}

// Room holds the members and the append-only message log of one room code.
//
// Room does not lock itself. Every access goes through Registry.WithRoom,
// which holds the registry-wide lock for the duration of the call.
type Room struct {
	code    string
	members []Member
	log     []Message
	now     func() time.Time
	logger  zerolog.Logger
}

func newRoom(code string, now func() time.Time, logger zerolog.Logger) *Room {
	return &Room{
		code:   code,
		now:    now,
		logger: logger.With().Str("room_code", code).Logger(),
	}
}

// Code returns the room's 4-digit code.
func (r *Room) Code() string {
	return r.code
}

// AddMember appends a member. Duplicate usernames and repeated joins from
// the same connection are accepted.
func (r *Room) AddMember(username string, conn parley.Connection) {
	r.members = append(r.members, Member{Username: username, Conn: conn})
	metrics.MembersJoined.Inc()

	r.logger.Info().
		Str("username", username).
		Str("conn_id", conn.ID()).
		Int("members", len(r.members)).
		Msg("member joined")
}

// RemoveMember removes every member bound to connID and returns how many
// entries were removed.
func (r *Room) RemoveMember(connID string) int {
	kept := r.members[:0]
	removed := 0
	for _, m := range r.members {
		if m.Conn.ID() == connID {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	// Drop references held past the new length.
	for i := len(kept); i < len(r.members); i++ {
		r.members[i] = Member{}
	}
	r.members = kept
	return removed
}

// Member returns the first member bound to connID.
func (r *Room) Member(connID string) (Member, bool) {
	for _, m := range r.members {
		if m.Conn.ID() == connID {
			return m, true
		}
	}
	return Member{}, false
}

// Members returns a copy of the member list in join order.
func (r *Room) Members() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

// History returns a copy of the message log in arrival order.
func (r *Room) History() []Message {
	out := make([]Message, len(r.log))
	copy(out, r.log)
	return out
}

// Broadcast sends content to every current member, the sender included, and
// then appends it to the log. For KindText content is the message text; for
// KindVoice it is the decoded audio.
//
// Delivery is best-effort: a failed send is logged and skipped, and never
// stops delivery to the remaining members.
func (r *Room) Broadcast(ctx context.Context, sender string, kind Kind, content []byte) Message {
	msg := Message{
		Sender:    sender,
		Kind:      kind,
		Timestamp: r.now().Format(parley.TimestampLayout),
	}
	if kind == KindVoice {
		msg.Audio = append([]byte(nil), content...)
	} else {
		msg.Text = string(content)
	}

	frameKind, payload := msg.Frame()
	for _, m := range r.members {
		if err := m.Conn.Send(ctx, frameKind, payload); err != nil {
			metrics.SendFailures.WithLabelValues("broadcast").Inc()
			r.logger.Debug().
				Err(err).
				Str("conn_id", m.Conn.ID()).
				Msg("broadcast send failed; skipping member")
		}
	}

	r.log = append(r.log, msg)
	metrics.MessagesBroadcast.WithLabelValues(kind.String()).Inc()

	r.logger.Debug().
		Str("sender", sender).
		Stringer("kind", kind).
		Int("members", len(r.members)).
		Int("log_size", len(r.log)).
		Msg("message broadcast")

	return msg
}

// SendHistory replays the log to conn only, in arrival order, using the
// same framing as Broadcast. Every entry is attempted even if one fails.
func (r *Room) SendHistory(ctx context.Context, conn parley.Connection) {
	failed := 0
	for _, msg := range r.log {
		frameKind, payload := msg.Frame()
		if err := conn.Send(ctx, frameKind, payload); err != nil {
			failed++
			metrics.SendFailures.WithLabelValues("history").Inc()
		}
	}

	if failed > 0 {
		r.logger.Debug().
			Str("conn_id", conn.ID()).
			Int("failed", failed).
			Int("total", len(r.log)).
			Msg("history replay incomplete")
	}
}
