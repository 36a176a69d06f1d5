// Package clock provides a fixed-length vector clock for tracking causality
// around a ring of participants. Each participant owns one index; receiving
// a clock merges it index-wise and then counts the receipt as a local event.
package clock
