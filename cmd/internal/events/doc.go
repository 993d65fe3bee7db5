// Package events pushes session changes to websocket subscribers.
//
// The Hub is an auth-change subscriber for the session controller: every
// user change becomes an auth.change envelope fanned out to connected
// clients. A client that connects later first receives the latest state.
// The Gateway serves the websocket endpoint (subprotocol nidentity.events.v1).
package events
