package parley

// Command keywords, the first colon-delimited field of an inbound frame.
const (
	CmdCreate        = "CREATE"
	CmdJoin          = "JOIN"
	CmdMessage       = "MSG"
	CmdVoice         = "VOICE"
	CmdListChatrooms = "LIST_CHATROOMS"
)

// Replies sent to the requesting connection as text frames.
const (
	ReplyInvalidRoom    = "Invalid room code"
	ReplyUserNotFound   = "User not found in room"
	ReplyInvalidVoice   = "Invalid voice data"
	ReplyUnknownCommand = "Unknown command"
	ReplyUnavailable    = "Server is shutting down"
	ReplyNoFreeRooms    = "No free room codes"
	ReplyInternalError  = "Internal server error"
)

// WebSocket close codes used by the core (RFC 6455 section 7.4.1).
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	ClosePolicyViolation = 1008
)

// Close reasons.
const (
	ReasonShuttingDown      = "Server is shutting down"
	ReasonRateLimitExceeded = "Rate limit exceeded"
)

// Connection errors
const (
	ErrConnectionClosed     = "client connection is closed"
	ErrContextCancelled     = "client context cancelled"
	ErrPayloadTooLarge      = "payload exceeds maximum size"
	ErrServerAlreadyRunning = "server already running"
)

// MaxPayloadSize bounds a single outbound frame.
const MaxPayloadSize = 10 * 1024 * 1024

// TimestampLayout is the wall-clock format stored with every message.
const TimestampLayout = "2006-01-02 15:04:05"
