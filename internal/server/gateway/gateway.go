// Package gateway is a thin client for the per-server VPN control plane.
// It wraps the remote REST API that manages client identities: create,
// profile download, revoke, suspend, unsuspend, and the blocked list.
package gateway

import "context"

// API is the contract a remote VPN server exposes through its control plane.
// Implementations are connection-scoped: the caller owns the lifetime and
// must call Close when done with the logical session.
type API interface {
	// CreateClient asks the server to provision a new client identity and
	// returns the server-side path of the generated profile.
	CreateClient(ctx context.Context, name string, usePassword bool) (string, error)

	// DownloadConfig fetches the raw connection profile for a client.
	DownloadConfig(ctx context.Context, name string) ([]byte, error)

	// RevokeClient removes the client identity from the server.
	RevokeClient(ctx context.Context, name string) error

	// SuspendClient blocks the client's VPN access without deleting it.
	SuspendClient(ctx context.Context, name string) error

	// UnsuspendClient lifts a previously applied suspension.
	UnsuspendClient(ctx context.Context, name string) error

	// ListBlocked returns the names currently blocked by policy on the server.
	ListBlocked(ctx context.Context) ([]string, error)

	// Close releases the underlying transport.
	Close()
}

// Factory builds an API session for one server from its address and
// decrypted credential. Services hold a Factory instead of concrete clients
// so tests can substitute fakes.
type Factory func(ip string, port int, apiKey string) API
