// Package transport decides which transports a peer should try, and in
// which order.
//
// A Selector turns the static transport configuration and the detected NAT
// type into a Plan:
//
//	full-cone, restricted   webrtc, websocket, tcp
//	symmetric               websocket, webrtc, tcp
//	anything else           tcp, websocket, webrtc
//
// Disabled transports are dropped, WebRTC is dropped when the platform
// capability probe fails, and relay is appended last when enabled. With
// auto-selection off the fixed tcp, websocket, webrtc order is used.
//
// BuildICEServers produces the pion/webrtc ICE server list from the
// configured STUN and TURN servers.
//
// Registry implements PlanConsumer. It holds one interfaces.Dialer per
// transport kind and dials through them in plan order, falling through to
// the next transport on failure.
package transport
