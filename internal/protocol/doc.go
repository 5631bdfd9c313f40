// Package protocol implements the CPC200 adapter wire format: the 16-byte
// little-endian message header, the framer that turns a forward-only byte
// stream into messages, and the fixed payload prefixes carried by video and
// audio messages.
//
// Header layout:
//
//	+--------+---------------+-------------+-------------+
//	| magic  | payloadLength | messageType | typeCheck   |
//	| u32 LE | u32 LE        | u32 LE      | ^type u32 LE|
//	+--------+---------------+-------------+-------------+
//
// The framer never resynchronizes. A bad header poisons the stream and the
// caller is expected to tear down the session and reconnect.
package protocol
