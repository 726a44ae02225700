// Package push holds the Homely real-time channel.
//
// The cloud side speaks Socket.IO v4. Only the subset needed to receive
// events is implemented: the Engine.IO websocket transport (open, ping and
// pong, close) and the Socket.IO packets for namespace connect, disconnect,
// event and connect_error on the default namespace.
//
// Listener is pure transport: it reports onConnected, onDisconnected and
// onMessage to a Handler and never reconnects by itself. Decode turns a raw
// event into the deltas the snapshot store understands.
package push
