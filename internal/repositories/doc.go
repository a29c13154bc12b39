// Package repositories implements persistence for the sync core.
//
// Library entries and queued mutations are stored as JSON arrays under fixed keys of a [Storage] backend,
// mirroring the key/value layout the desktop client has always used. Every repository serializes its own
// load-modify-persist cycle behind a mutex, so it is the single writer for its key.
//
// Key Implementations:
//   - [SQLiteStorage] : key/value records in the "storage" table
//   - [MemoryStorage] : in-process storage for tests and dry runs
//   - [LibraryRepository] : the progress store (key "library_entries")
//   - [MutationRepository] : the offline mutation queue and its dead-letter list
//   - [SyncLogRepository] : row-based audit log of sync passes
package repositories
