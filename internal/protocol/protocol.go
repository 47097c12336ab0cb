package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/luciancaetano/parley"
)

var (
	// ErrUnknownCommand is returned for a frame whose first field is not a
	// known command keyword.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMalformed is returned when a known command lacks a required field.
	ErrMalformed = errors.New("malformed command")
	// ErrDecode is returned when a VOICE payload is not valid base64.
	ErrDecode = errors.New("invalid base64 voice payload")
)

const fieldSep = ":"

// Request is a parsed inbound command.
type Request struct {
	Command  string
	RoomCode string
	Username string // JOIN
	Text     string // MSG
	Audio    []byte // VOICE, already decoded
}

// Parse turns one inbound frame into a Request.
//
// Grammar:
//
//	CREATE
//	JOIN:<room_code>:<username>
//	MSG:<room_code>:<text, may contain colons>
//	VOICE:<room_code>:<base64 audio>
//	LIST_CHATROOMS
//
// For VOICE with an undecodable payload the returned Request still carries
// Command and RoomCode, and the error wraps ErrDecode.
func Parse(raw string) (Request, error) {
	raw = strings.TrimRight(raw, "\r\n")

	command, rest, _ := strings.Cut(raw, fieldSep)
	req := Request{Command: command}

	switch command {
	case parley.CmdCreate, parley.CmdListChatrooms:
		return req, nil

	case parley.CmdJoin:
		code, tail, ok := strings.Cut(rest, fieldSep)
		if !ok || code == "" {
			return req, fmt.Errorf("%w: JOIN requires <room_code>:<username>", ErrMalformed)
		}
		req.RoomCode = code
		// The username ends at the next colon; anything after it is ignored.
		req.Username, _, _ = strings.Cut(tail, fieldSep)
		return req, nil

	case parley.CmdMessage:
		code, text, ok := strings.Cut(rest, fieldSep)
		if !ok || code == "" {
			return req, fmt.Errorf("%w: MSG requires <room_code>:<text>", ErrMalformed)
		}
		req.RoomCode = code
		req.Text = text
		return req, nil

	case parley.CmdVoice:
		code, encoded, ok := strings.Cut(rest, fieldSep)
		if !ok || code == "" {
			return req, fmt.Errorf("%w: VOICE requires <room_code>:<base64>", ErrMalformed)
		}
		req.RoomCode = code
		audio, err := DecodeVoice(encoded)
		if err != nil {
			return req, err
		}
		req.Audio = audio
		return req, nil

	default:
		return req, fmt.Errorf("%w: %q", ErrUnknownCommand, truncate(command, 32))
	}
}

// DecodeVoice decodes a standard base64 payload, as produced by a browser
// FileReader data URL. Unpadded input is accepted.
func DecodeVoice(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err == nil {
		return decoded, nil
	}

	if raw, rawErr := base64.RawStdEncoding.DecodeString(encoded); rawErr == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrDecode, err)
}

type roomListEntry struct {
	RoomCode string `json:"room_code"`
}

// EncodeRoomList renders the LIST_CHATROOMS reply: [{"room_code":"1234"},...].
func EncodeRoomList(codes []string) ([]byte, error) {
	entries := make([]roomListEntry, len(codes))
	for i, code := range codes {
		entries[i] = roomListEntry{RoomCode: code}
	}
	return json.Marshal(entries)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
