package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a platform account identified by a stable Telegram ID.
//
// Balance is exact decimal money. It has no floor at the data level and may
// go negative after a charge sweep; billing reacts to balance <= 0 by
// suspending the user's configs.
type User struct {
	ID         int64
	TelegramID int64
	Username   *string
	Balance    decimal.Decimal
	CreatedAt  time.Time

	// ReferrerID points at the user who invited this one, if any.
	ReferrerID *int64
}
