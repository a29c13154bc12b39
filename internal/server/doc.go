// Package server provides HTTP routing, middleware and the handlers of the local server.
//
// # Router Infrastructure
//
// [BasicRouter] implements [Router] on [http.ServeMux] method patterns. [Middleware] runs in the order it is added;
// [Logging] and [Recover] are provided.
//
// # OAuth Callback Handler
//
// [OAuthHandler] completes the tracker's authorization code flow: it checks the state parameter, exchanges the
// code through an [Exchanger] and sends exactly one [OAuthResult]. `tsundoku auth login` starts a temporary server
// with this handler and stops it once the result arrives.
//
// # Status
//
// [StatusHandler] exposes a JSON snapshot of the sync daemon (queue length, dirty entries, recent passes) so other
// local tools can poll it. [Serve] runs a handler until its context is cancelled.
package server
