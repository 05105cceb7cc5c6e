// Package generator defines the boundary between the orchestrator and
// the external video synthesis model.
//
// The model itself is explicitly out of scope for this repository (it
// is treated as an opaque collaborator). Generator is the interface the
// executor drives; Subprocess is the one concrete implementation,
// addressing the model as a child process over a local line-delimited
// protocol: one invocation per job, a JSON request written to stdin,
// streaming JSON progress lines on stdout, and a final JSON result line.
// This mirrors the callback-style progress reporting of the original
// system while keeping the process boundary explicit, per the
// re-architecture notes on treating the model as a process boundary.
package generator
