// Package queue implements the bounded buffer that sits between pipeline
// stages. Each instance owns one mutex and a pair of condition variables
// ("space available", "item available"); separate instances never share a
// lock, so backpressure on one buffer cannot stall another.
//
// Removal order is last-in first-out. Under contention the newest clock is
// the one advanced next, which reorders events inside a participant. Existing
// rings depend on this order, though it is most likely an accident of a
// stack-based buffer rather than a requirement.
package queue
