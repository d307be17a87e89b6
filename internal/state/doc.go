// Package state persists environment states so a crashed workflow run can
// resume from its last phase instead of repeating side effects.
//
// MemoryStore keeps states in process; S3Store keeps one JSON object per
// environment in an S3-compatible bucket (e.g. Hetzner Object Storage) so
// several orchestrator replicas share one view.
package state
