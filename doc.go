// Package parley is a real-time chatroom broadcaster over WebSockets.
//
// Clients create short-lived rooms identified by a 4-digit code, join them
// under a username, exchange text and voice messages, and receive the room's
// full history when they join.
//
// # Architecture
//
// The transport (package ws, backed by internal/websocket) accepts
// connections and hands every inbound frame to the dispatcher. The dispatcher
// wraps the frame in a task and enqueues it on a fixed-size worker pool, so
// the read loop never runs business logic. Workers parse the command and run
// it against the room registry, which serializes every room mutation behind
// a single lock. Broadcasts and history replay call back into the transport
// through the Connection interface.
//
// # Protocol
//
// One command per frame, colon-delimited:
//
//	CREATE                       -> "4821"
//	JOIN:<room_code>:<username>  -> history replay, or "Invalid room code"
//	MSG:<room_code>:<text>       -> "<username>: <text>" to every member
//	VOICE:<room_code>:<base64>   -> raw audio bytes (binary frame) to every member
//	LIST_CHATROOMS               -> [{"room_code":"4821"}]
//
// Text replies and text broadcasts are text frames. Voice broadcasts and
// voice history entries are binary frames carrying the decoded audio.
//
// # Ordering
//
// All room mutations share one lock, which gives a single total order over
// create, join and broadcast events. A room's log records messages in the
// order their broadcasts acquired that lock. A slow outbound send while the
// lock is held stalls every room; this is a known limitation of the design.
//
// # Shutdown
//
// Shutdown stops accepting new connections, closes every room member with
// close code 1001, clears the room table, then drains the worker pool.
package parley
