// Package services defines the [Tracker] interface for the remote progress tracking service and implements it for AniList.
//
// # Tracker Interface
//
// The sync engine only needs three remote operations: fetch the user's whole collection, fetch one item's
// progress, and write one item's progress. [Tracker] is exactly that surface plus an Authenticated check used
// for soft skips.
//
// # Status Mapping
//
// [MapStatus] translates local statuses into the tracker vocabulary and is total over [models.Statuses].
// [LocalStatus] is the reverse; REPEATING folds into active.
//
// # AniList Implementation
//
// [AniListService] speaks GraphQL through [APIService] using an [oauth2] client built from a [TokenStore].
// Refreshed tokens are written back to the store. Requests share one [rate.Limiter].
//
// # Error Handling
//
// Responses are classified by [APIResponse.Err]:
//   - [shared.ErrAuthFailed] : 401, credential rejected
//   - [shared.ErrServiceUnavailable] : 408, 429 and 5xx, safe to retry
//   - [shared.ErrPermanent] : any other 4xx, retrying cannot help
//   - [shared.ErrItemNotFound] : unknown media or media missing from the list
//
// Transport failures are returned wrapped so network.IsConnectivityError can still see the underlying net error.
package services
