// Package ledger tracks how many requests each server has been routed and
// hands a removed server's count over to its peers.
package ledger
