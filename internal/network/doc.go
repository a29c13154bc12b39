// Package network provides the connectivity signal consumed by the mutation queue and the sync scheduler.
//
// [Monitor] exposes the current online state, a transition subscription, and an optional probe loop.
// [IsConnectivityError] separates "could not reach the server" from "the server said no", which is what lets a
// queue drain stop early instead of burning through every item against a dead network.
package network
