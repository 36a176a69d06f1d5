// Package frontier finds the causal frontier among clocks reported by
// several participants: the clocks no other reported clock happened after.
//
// In a ring with a single circulating clock the frontier is normally one
// participant, the one that forwarded most recently. More than one entry
// means the reported clocks are concurrent, which a healthy ring does not
// produce.
package frontier
