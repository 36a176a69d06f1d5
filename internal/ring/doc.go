// Package ring describes the fixed ring topology: N participants indexed by
// rank, each receiving only from its predecessor and sending only to its
// successor.
package ring
