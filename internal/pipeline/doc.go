// Package pipeline implements the three stages every ring participant runs:
//
//	transport receive -> IngressWorker -> ingress queue
//	  -> ClockWorker -> egress queue -> EgressWorker -> transport send
//
// The ingress stage merges each received clock into its working clock and
// counts the receipt as a local event. The clock stage then counts a second,
// independent local event before the clock is forwarded, so a participant's
// own index grows by two per pass.
//
// Every stage runs until its context is cancelled or the transport fails.
package pipeline
