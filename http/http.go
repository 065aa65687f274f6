// Package http exposes a relayer over HTTP.
//
// RelayServer accepts authorizations signed by token holders and relays them,
// paying gas from the relayer's account. RelayClient is its Go client.
package http
