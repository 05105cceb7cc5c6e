// Package params defines the generation parameters accepted by
// POST /api/jobs/submit.
//
// GenerationParams is intentionally minimal and storage-agnostic: it
// carries only the user-facing request fields, mirroring the way the
// teacher's message package kept transport payload separate from queue
// delivery state (job.Job). Validation lives here rather than in the
// api package so that any caller constructing a job programmatically
// gets the same constraints enforced.
package params
