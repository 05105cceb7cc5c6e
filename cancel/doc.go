// Package cancel implements the in-replica cancellation registry an
// executor consults at each progress checkpoint.
//
// Cancellation is authoritatively recorded on the job record in the
// store (CancelRequested), but the executor's progress callback fires
// far more often than the lease-renewal tick that would otherwise be
// the natural point to re-read the store. Registry lets the dispatcher
// mirror a cancellation into fast, in-memory replica-local state the
// instant it observes it, so the generator's own checkpoints never pay
// a store round trip.
package cancel
