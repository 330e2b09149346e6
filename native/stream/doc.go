// Package stream implements the continuous payment stream ledger: fixed
// deposits unlocking linearly to a recipient between a start and stop time,
// withdrawable at any point, cancellable by either party for a pro-rata
// split less an optional cancellation fee.
package stream
