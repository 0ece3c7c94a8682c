// Package health polls backend servers and evicts those that stop answering.
//
// A Poller probes every ring member once per interval. A member that fails a
// configured number of consecutive probes is removed through the Evictor,
// which hands its request count to its peers like any other removal.
package health
