// Package balancer ties the ring, the load ledger and the identifier sources
// together. It adds and removes servers, routes requests to their owner and
// keeps the ledger consistent with ring membership.
//
// Membership changes hold an exclusive lock for their whole duration, so
// routing never observes a server with only some of its virtual nodes placed
// or cleared. Routing runs concurrently under a shared lock.
package balancer
