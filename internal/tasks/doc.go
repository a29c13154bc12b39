// Package tasks runs the long-lived synchronization work of the library with real-time progress reporting.
//
// # Core Operations
//
//  1. [SyncEngine] : push and pull progress against the remote tracker
//     - [SyncEngine.PushEntry] sends one entry; failures are recorded on the entry and queued
//     - [SyncEngine.PushAll] pushes every dirty, linked entry with a fixed delay between calls
//     - [SyncEngine.PullEntry] and [SyncEngine.PullAll] overwrite local progress with the remote value
//
//  2. [MutationQueue] : persisted FIFO of failed remote writes
//     - [MutationQueue.Drain] replays items through registered processors while online
//     - A connectivity failure stops the pass; permanent failures move to the dead-letter list
//
//  3. [Scheduler] : periodic push passes plus an immediate pass when connectivity returns
//
//  4. [Downloader] : single-loop FIFO of content units fetched from providers into a [Sink]
//
//  5. [UnitChecker] : concurrent, rate-limited check of provider entries for units past the current progress
//
// # Progress Reporting
//
// Push, pull and unit checks accept a channel of [ProgressUpdate]. Sends use select with default, so a slow or
// absent reader never blocks a pass.
//
// # Pass Recording
//
// The optional [PassRecorder] (repositories.SyncLogRepository) stores a summary of every push, pull and drain pass.
// Recording errors are logged and never fail the pass.
package tasks
