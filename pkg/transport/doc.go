// Package transport defines the byte-frame links the sim provider rides on
// and a small registry for the sessions a worker accepts.
//
// Key concepts:
// - Transport: dials/listens for Sessions of a specific Kind (mem/tcp/quic/winpipe)
// - Session: a bidirectional connection to a peer
// - Stream: a Send/Recv channel of length-prefixed frames (u32 LE)
// - Registry: tracks live inbound sessions per peer so they can be torn
//   down together with their worker
package transport
