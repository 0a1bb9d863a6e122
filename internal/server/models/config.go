package models

import "time"

// Config is a provisioned VPN client identity owned by exactly one user and
// hosted on exactly one server.
//
// Name is the technical name: unique within the server's namespace and
// immutable after creation, because it addresses the client on the remote
// control plane. Only DisplayName may be renamed.
type Config struct {
	ID          int64
	Name        string
	DisplayName string
	ServerID    int64
	OwnerID     int64
	CreatedAt   time.Time
	Suspended   bool
	SuspendedAt *time.Time
}
