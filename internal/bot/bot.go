// Package bot implements the Telegram front end: account registration with
// referral deep links, balance queries, config listing and download, and
// paid config creation.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/akazakov/vpnmanager/internal/common"
	"github.com/akazakov/vpnmanager/internal/logging"
	"github.com/akazakov/vpnmanager/internal/server/models"
	"github.com/akazakov/vpnmanager/internal/server/repositories/configs"
	"github.com/akazakov/vpnmanager/internal/server/repositories/servers"
	"github.com/akazakov/vpnmanager/internal/server/services"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sender is the slice of tgbotapi.BotAPI the handler needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// UserService is the slice of the user service the bot consumes.
type UserService interface {
	Register(ctx context.Context, tgID int64, username *string, referrerID *int64) (*models.User, error)
	GetByTelegramID(ctx context.Context, tgID int64) (*models.User, error)
	CountReferrals(ctx context.Context, userID int64) (int64, error)
}

// ConfigService is the slice of the config service the bot consumes.
type ConfigService interface {
	List(ctx context.Context, f configs.ListFilter) ([]*models.Config, error)
	Download(ctx context.Context, configID int64) ([]byte, error)
	Get(ctx context.Context, configID int64) (*models.Config, error)
}

// ServerService is the slice of the server service the bot consumes.
type ServerService interface {
	List(ctx context.Context, f servers.ListFilter) ([]*models.Server, error)
}

// BillingService is the slice of the billing service the bot consumes.
type BillingService interface {
	CreatePaidConfig(ctx context.Context, p services.CreatePaidConfigParams) (*models.Config, error)
	PerConfigCost() decimal.Decimal
}

// Options carries the static bot settings.
type Options struct {
	// CreationCost is charged for configs created through the bot.
	CreationCost decimal.Decimal

	// BotName is used to build referral deep links.
	BotName string
}

// Handler routes Telegram updates to the domain services.
type Handler struct {
	sender  Sender
	users   UserService
	cfgs    ConfigService
	servers ServerService
	billing BillingService
	opts    Options
	log     logging.Logger
}

func NewHandler(sender Sender, users UserService, cfgs ConfigService, serverSvc ServerService, billing BillingService, opts Options, log logging.Logger) *Handler {
	return &Handler{
		sender:  sender,
		users:   users,
		cfgs:    cfgs,
		servers: serverSvc,
		billing: billing,
		opts:    opts,
		log:     log,
	}
}

// Run consumes updates until the context is canceled.
func (h *Handler) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate processes a single update. Only command messages are acted on.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || !update.Message.IsCommand() {
		return
	}

	msg := update.Message
	var err error
	switch msg.Command() {
	case "start":
		err = h.handleStart(ctx, msg)
	case "balance":
		err = h.handleBalance(ctx, msg)
	case "configs":
		err = h.handleConfigs(ctx, msg)
	case "download":
		err = h.handleDownload(ctx, msg)
	case "newconfig":
		err = h.handleNewConfig(ctx, msg)
	case "topup":
		err = h.handleTopUp(ctx, msg)
	case "referral":
		err = h.handleReferral(ctx, msg)
	default:
		err = h.reply(msg.Chat.ID, "Unknown command. Try /balance, /configs, /newconfig, /download, /topup or /referral.")
	}
	if err != nil {
		h.log.Error(ctx, "bot command failed", "command", msg.Command(), "tg_id", msg.From.ID, "err", err)
		_ = h.reply(msg.Chat.ID, userFacingError(err))
	}
}

// userFacingError maps service errors to safe chat messages.
func userFacingError(err error) string {
	switch {
	case errors.Is(err, common.ErrInsufficientBalance):
		return "Not enough balance for that. Top up and try again."
	case errors.Is(err, common.ErrConfigNotFound):
		return "No such config."
	case errors.Is(err, common.ErrProvisioningFailure):
		return "The VPN server is not responding right now. Please try again later."
	default:
		return "Something went wrong. Please try again later."
	}
}

func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	var referrerID *int64
	if payload := msg.CommandArguments(); payload != "" {
		// Deep-link payload carries the inviter's Telegram ID. A broken or
		// self-referencing payload is ignored rather than failing signup.
		if inviterTG, err := strconv.ParseInt(payload, 10, 64); err == nil && inviterTG != msg.From.ID {
			if inviter, err := h.users.GetByTelegramID(ctx, inviterTG); err == nil {
				referrerID = &inviter.ID
			}
		}
	}

	var username *string
	if msg.From.UserName != "" {
		username = &msg.From.UserName
	}

	user, err := h.users.Register(ctx, msg.From.ID, username, referrerID)
	if err != nil {
		return err
	}

	return h.reply(msg.Chat.ID, fmt.Sprintf(
		"Welcome! Your balance is %s.\n\n"+
			"/newconfig — create a VPN config (costs %s)\n"+
			"/configs — list your configs\n"+
			"/balance — check balance\n"+
			"/referral — invite friends",
		user.Balance.StringFixed(2), h.opts.CreationCost.StringFixed(2)))
}

func (h *Handler) handleBalance(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := h.users.GetByTelegramID(ctx, msg.From.ID)
	if err != nil {
		return err
	}

	active, err := h.cfgs.List(ctx, activeFilter(user.ID))
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Balance: %s", user.Balance.StringFixed(2))
	if n := len(active); n > 0 {
		perSweep := h.billing.PerConfigCost().Mul(decimal.NewFromInt(int64(n)))
		text += fmt.Sprintf("\nDaily charge: %s (%d active configs)", perSweep.StringFixed(2), n)
	}
	return h.reply(msg.Chat.ID, text)
}

func (h *Handler) handleConfigs(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := h.users.GetByTelegramID(ctx, msg.From.ID)
	if err != nil {
		return err
	}

	owned, err := h.cfgs.List(ctx, configs.ListFilter{OwnerID: &user.ID})
	if err != nil {
		return err
	}
	if len(owned) == 0 {
		return h.reply(msg.Chat.ID, "You have no configs yet. Create one with /newconfig.")
	}

	var b strings.Builder
	b.WriteString("Your configs:\n")
	for _, c := range owned {
		status := "active"
		if c.Suspended {
			status = "suspended"
		}
		fmt.Fprintf(&b, "%d. %s (%s) — /download %d\n", c.ID, displayName(c), status, c.ID)
	}
	return h.reply(msg.Chat.ID, b.String())
}

func (h *Handler) handleDownload(ctx context.Context, msg *tgbotapi.Message) error {
	id, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
	if err != nil {
		return h.reply(msg.Chat.ID, "Usage: /download <config id>")
	}

	user, err := h.users.GetByTelegramID(ctx, msg.From.ID)
	if err != nil {
		return err
	}
	cfg, err := h.cfgs.Get(ctx, id)
	if err != nil {
		return err
	}
	// Owners only. Same response as a missing config so IDs cannot be enumerated.
	if cfg.OwnerID != user.ID {
		return common.ErrConfigNotFound
	}

	data, err := h.cfgs.Download(ctx, id)
	if err != nil {
		return err
	}

	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FileBytes{
		Name:  cfg.Name + ".ovpn",
		Bytes: data,
	})
	_, err = h.sender.Send(doc)
	return err
}

func (h *Handler) handleNewConfig(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := h.users.GetByTelegramID(ctx, msg.From.ID)
	if err != nil {
		return err
	}

	available, err := h.servers.List(ctx, servers.ListFilter{})
	if err != nil {
		return err
	}
	if len(available) == 0 {
		return h.reply(msg.Chat.ID, "No servers are available right now.")
	}
	target := available[0]

	display := strings.TrimSpace(msg.CommandArguments())
	if display == "" {
		display = "config"
	}

	cfg, err := h.billing.CreatePaidConfig(ctx, services.CreatePaidConfigParams{
		ServerID:    target.ID,
		OwnerID:     user.ID,
		Name:        "cl-" + uuid.NewString(),
		DisplayName: display,
		Cost:        h.opts.CreationCost,
	})
	if err != nil {
		return err
	}

	return h.reply(msg.Chat.ID, fmt.Sprintf(
		"Config %q created on %s. Download it with /download %d.",
		displayName(cfg), target.Location, cfg.ID))
}

// handleTopUp points at the manual payment flow. Payments are credited by an
// operator through the admin API, so the reply carries the account number
// the operator needs.
func (h *Handler) handleTopUp(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := h.users.GetByTelegramID(ctx, msg.From.ID)
	if err != nil {
		return err
	}
	return h.reply(msg.Chat.ID, fmt.Sprintf(
		"To top up, contact support and quote your account number: %d.\n"+
			"Your current balance is %s.", user.ID, user.Balance.StringFixed(2)))
}

func (h *Handler) handleReferral(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := h.users.GetByTelegramID(ctx, msg.From.ID)
	if err != nil {
		return err
	}
	count, err := h.users.CountReferrals(ctx, user.ID)
	if err != nil {
		return err
	}

	link := fmt.Sprintf("https://t.me/%s?start=%d", h.opts.BotName, user.TelegramID)
	return h.reply(msg.Chat.ID, fmt.Sprintf(
		"Your referral link:\n%s\n\nFriends invited so far: %d", link, count))
}

func (h *Handler) reply(chatID int64, text string) error {
	_, err := h.sender.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func activeFilter(ownerID int64) configs.ListFilter {
	suspended := false
	return configs.ListFilter{OwnerID: &ownerID, Suspended: &suspended}
}

func displayName(c *models.Config) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Name
}
