// Package twist implements the WebSocket protocol (RFC 6455) as a stack of
// small, non-blocking pieces.
//
// Bytes are turned into frames by a FrameCodec, frames into messages by a
// TwistCodec, and messages flow through a chain of middleware layers before
// they reach the application. Every layer implements Duplex: Poll returns
// (nil, nil) when nothing is ready yet and StartSend returns false when the
// layer cannot take a message yet, so a layer never blocks.
//
// The PingPong layer answers pings with pongs in the order they arrived and
// holds application sends back until those pongs have gone out. Metrics and
// RateLimiter are further layers; custom ones are plain Layer functions.
//
// # Connections
//
// Conn drives a stack over a net.Conn. Servers get one from Upgrader.Upgrade
// (net/http) or Upgrader.Accept (any net.Conn), clients from Dial.
//
//	conn, err := upgrader.Upgrade(w, r)
//	if err != nil {
//		return
//	}
//	defer conn.Close()
//
//	for {
//		msg, err := conn.ReadMessage(ctx)
//		if err != nil || msg.IsClose() {
//			return
//		}
//		if err := conn.WriteMessage(ctx, msg); err != nil {
//			return
//		}
//	}
//
// Protocol violations are returned as *ProtocolError and close the
// connection with the matching close code. Handshake failures are
// *HandshakeError.
package twist
