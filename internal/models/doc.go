// Package models defines the domain entities shared by the sync core.
//
// Persisted records:
//   - [LibraryEntry] : local progress on one tracked anime or manga
//   - [QueuedMutation] : a remote write that failed and awaits replay
//
// Transient records:
//   - [ContentSource] : descriptor of a registered content provider
//   - [DownloadTask] : one content unit waiting in the download queue
//
// Persisted records are serialized as JSON arrays; new fields must be optional so older data keeps decoding.
package models
