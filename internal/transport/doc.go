// Package transport defines how ring participants exchange clocks.
//
// A Transport addresses peers by rank. Implementations live in the
// subpackages: local (in-process channels), grpcx (one unary RPC per
// message) and zmq (PUSH/PULL sockets). All of them carry the sender's rank
// in framing and the counters alone in the payload.
package transport
