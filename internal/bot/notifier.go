package bot

import (
	"context"
	"fmt"

	"github.com/akazakov/vpnmanager/internal/logging"
	"github.com/akazakov/vpnmanager/internal/server/services"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
)

// Notifier sends low-balance warnings after each charge sweep. Runway is
// projected from what the sweep just charged: balance / per-sweep charge
// equals the number of sweeps the user can still afford.
type Notifier struct {
	sender Sender
	log    logging.Logger
}

func NewNotifier(sender Sender, log logging.Logger) *Notifier {
	return &Notifier{sender: sender, log: log}
}

// Notify messages every charged user whose projected runway is short.
// Send failures are logged per user and never interrupt the loop; a user
// with a blocked bot must not silence everyone after them.
func (n *Notifier) Notify(ctx context.Context, results []services.ChargeResult) {
	for _, res := range results {
		text, ok := warningFor(res.User.Balance, res.Amount)
		if !ok {
			continue
		}
		if _, err := n.sender.Send(tgbotapi.NewMessage(res.User.TelegramID, text)); err != nil {
			n.log.Warn(ctx, "low-balance warning not delivered", "tg_id", res.User.TelegramID, "err", err)
		}
	}
}

// warningFor returns the warning text for a balance given the per-sweep
// charge, or ok=false when no warning is due. Thresholds are one sweep of
// runway (about a day at the default interval) and seven.
func warningFor(balance, perSweepCharge decimal.Decimal) (string, bool) {
	if !perSweepCharge.IsPositive() {
		return "", false
	}

	switch {
	case !balance.IsPositive():
		return "Your balance is exhausted and your configs are suspended. Top up to reactivate them.", true
	case balance.LessThanOrEqual(perSweepCharge):
		return fmt.Sprintf("Your balance (%s) covers less than a day. Top up now to keep your VPN running.",
			balance.StringFixed(2)), true
	case balance.LessThanOrEqual(perSweepCharge.Mul(decimal.NewFromInt(7))):
		return fmt.Sprintf("Your balance (%s) covers less than a week. Consider topping up.",
			balance.StringFixed(2)), true
	}
	return "", false
}
