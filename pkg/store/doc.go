// Package store persists harvested pages and replays them into a resume
// state.
//
// Backends:
//   - json: one indented JSON array, rewritten atomically on every save
//   - jsonl: one page per line, appended and fsynced; a torn final line is
//     ignored and trimmed before the next append
//   - redis: a list of JSON page records, RPUSH to append, LPUSH to prepend
//
// Pages are never updated in place. The resume state is always derived
// from them with models.ReplayState.
package store
