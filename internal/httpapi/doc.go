// Package httpapi exposes the conversation core over HTTP and WebSocket.
//
// The REST surface under /api covers conversation lifecycle, membership
// administration, message send/list/retract, summaries, and read markers.
// GET /api/stream upgrades to a WebSocket carrying live room events; clients
// subscribe per conversation with join/leave frames.
//
// Identity is forwarded, not verified: the surrounding platform authenticates
// the user and passes the ID in the X-User-ID header (or a user_id query
// parameter for WebSocket clients). Requests without an identity get 401.
//
// Core errors map to stable HTTP statuses:
//
//	InvalidArgument   400
//	PermissionDenied  403
//	NotFound          404
//	AlreadyMember     409
//	NotMember         409
//	Expired           410
//	Unavailable       503
//
// Anything else is a 500 and logged server-side.
package httpapi
