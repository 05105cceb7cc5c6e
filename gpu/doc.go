// Package gpu implements the per-replica GPU slot registry described by
// the orchestrator's admission control: a fixed set of device slots,
// guarded by a single mutex, offering an atomic allocate/release
// protocol to the dispatcher.
//
// The registry is replica-local and in-memory by design — GPU devices
// are not a resource the shared store can arbitrate across replicas,
// so each replica accounts for only the devices it was started with.
package gpu
