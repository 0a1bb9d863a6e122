package models

import "github.com/shopspring/decimal"

// Server is a remote VPN host with its own client-management control plane.
//
// APIKey is confidential: it is stored AES-GCM encrypted and only the
// repository layer sees the ciphertext. In memory the field always holds
// plaintext.
type Server struct {
	ID          int64
	Name        string
	IP          string
	Port        int
	Host        string
	MonthlyCost decimal.Decimal
	Location    string
	APIKey      string
}
