// Package storage persists the per-source "already announced" sets that
// let the notification pipeline survive restarts without re-announcing history.
//
// Every backend stores one set per source and supports a full, atomic
// overwrite of that set. A missing set is not an error: it loads as empty.
//
// Backends:
//   - file:   one JSON array per source (<dir>/<source>.seen.json), tmp file + rename
//   - sqlite: single database file, one row per (source, id)
//   - redis:  one hash per source (serverbot:seen:<source>)
//   - memory: in-process, for tests and dry runs
package storage
