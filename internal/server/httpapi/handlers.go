package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/akazakov/vpnmanager/internal/server/auth"
	"github.com/akazakov/vpnmanager/internal/server/models"
	"github.com/akazakov/vpnmanager/internal/server/repositories/configs"
	"github.com/akazakov/vpnmanager/internal/server/repositories/servers"
	"github.com/akazakov/vpnmanager/internal/server/services"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

type userDTO struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	Username   *string   `json:"username,omitempty"`
	Balance    string    `json:"balance"`
	ReferrerID *int64    `json:"referrer_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toUserDTO(u *models.User) userDTO {
	return userDTO{
		ID:         u.ID,
		TelegramID: u.TelegramID,
		Username:   u.Username,
		Balance:    u.Balance.StringFixed(2),
		ReferrerID: u.ReferrerID,
		CreatedAt:  u.CreatedAt,
	}
}

// serverDTO deliberately has no credential field.
type serverDTO struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	Host        string `json:"host"`
	MonthlyCost string `json:"monthly_cost"`
	Location    string `json:"location"`
}

func toServerDTO(s *models.Server) serverDTO {
	return serverDTO{
		ID:          s.ID,
		Name:        s.Name,
		IP:          s.IP,
		Port:        s.Port,
		Host:        s.Host,
		MonthlyCost: s.MonthlyCost.StringFixed(2),
		Location:    s.Location,
	}
}

type configDTO struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	ServerID    int64      `json:"server_id"`
	OwnerID     int64      `json:"owner_id"`
	Suspended   bool       `json:"suspended"`
	SuspendedAt *time.Time `json:"suspended_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toConfigDTO(c *models.Config) configDTO {
	return configDTO{
		ID:          c.ID,
		Name:        c.Name,
		DisplayName: c.DisplayName,
		ServerID:    c.ServerID,
		OwnerID:     c.OwnerID,
		Suspended:   c.Suspended,
		SuspendedAt: c.SuspendedAt,
		CreatedAt:   c.CreatedAt,
	}
}

// pathID parses the {id} segment of the request path.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

// --- auth ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if s.opts.AdminPasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(s.opts.AdminPasswordHash), []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	}

	token, err := auth.GenerateToken(auth.RoleAdmin, s.opts.SecretKey, s.opts.TokenValidity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// --- users ---

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("username"); q != "" {
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				badRequest(w, "invalid limit")
				return
			}
			limit = n
		}
		users, err := s.users.SearchByUsername(r.Context(), q, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, mapSlice(users, toUserDTO))
		return
	}

	users, err := s.users.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(users, toUserDTO))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	user, err := s.users.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	referrals, err := s.users.CountReferrals(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		userDTO
		Referrals int64 `json:"referrals"`
	}{toUserDTO(user), referrals})
}

func (s *Server) handleListReferrals(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	limit, offset := 20, 0
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, "invalid offset")
			return
		}
		offset = n
	}

	// 404 for an unknown inviter rather than an empty page.
	if _, err := s.users.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	referrals, err := s.users.ListReferrals(r.Context(), id, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total, err := s.users.CountReferrals(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Referrals []userDTO `json:"referrals"`
		Total     int64     `json:"total"`
		Limit     int       `json:"limit"`
		Offset    int       `json:"offset"`
	}{mapSlice(referrals, toUserDTO), total, limit, offset})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.users.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceChange(w, r, s.billing.TopUp)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleBalanceChange(w, r, s.billing.Withdraw)
}

func (s *Server) handleBalanceChange(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID int64, amount decimal.Decimal) (*models.User, error)) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	user, err := op(r.Context(), id, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// --- servers ---

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		IP          string `json:"ip"`
		Port        int    `json:"port"`
		Host        string `json:"host"`
		MonthlyCost string `json:"monthly_cost"`
		Location    string `json:"location"`
		APIKey      string `json:"api_key"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Name == "" || req.IP == "" || req.Port <= 0 || req.APIKey == "" {
		badRequest(w, "name, ip, port and api_key are required")
		return
	}
	cost := decimal.Zero
	if req.MonthlyCost != "" {
		var err error
		cost, err = parseAmount(req.MonthlyCost)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
	}

	created, err := s.servers.Create(r.Context(), &models.Server{
		Name:        req.Name,
		IP:          req.IP,
		Port:        req.Port,
		Host:        req.Host,
		MonthlyCost: cost,
		Location:    req.Location,
		APIKey:      req.APIKey,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toServerDTO(created))
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	var f servers.ListFilter
	q := r.URL.Query()
	if host := q.Get("host"); host != "" {
		f.Host = &host
	}
	if loc := q.Get("location"); loc != "" {
		f.Location = &loc
	}

	list, err := s.servers.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(list, toServerDTO))
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	srv, err := s.servers.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toServerDTO(srv))
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	var req struct {
		Name        *string `json:"name"`
		IP          *string `json:"ip"`
		Port        *int    `json:"port"`
		Host        *string `json:"host"`
		MonthlyCost *string `json:"monthly_cost"`
		Location    *string `json:"location"`
		APIKey      *string `json:"api_key"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	upd := servers.Update{
		Name:     req.Name,
		IP:       req.IP,
		Port:     req.Port,
		Host:     req.Host,
		Location: req.Location,
		APIKey:   req.APIKey,
	}
	if req.MonthlyCost != nil {
		cost, err := parseAmount(*req.MonthlyCost)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		upd.MonthlyCost = &cost
	}

	updated, err := s.servers.Update(r.Context(), id, upd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toServerDTO(updated))
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.servers.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBlocked(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	blocked, err := s.configs.ListBlocked(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"blocked": blocked})
}

// --- configs ---

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServerID    int64  `json:"server_id"`
		OwnerID     int64  `json:"owner_id"`
		DisplayName string `json:"display_name"`
		UsePassword bool   `json:"use_password"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.ServerID == 0 || req.OwnerID == 0 {
		badRequest(w, "server_id and owner_id are required")
		return
	}

	cfg, err := s.billing.CreatePaidConfig(r.Context(), services.CreatePaidConfigParams{
		ServerID:    req.ServerID,
		OwnerID:     req.OwnerID,
		Name:        newClientName(),
		DisplayName: req.DisplayName,
		Cost:        s.opts.CreationCost,
		UsePassword: req.UsePassword,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConfigDTO(cfg))
}

// newClientName generates the immutable technical client name. It doubles
// as the certificate CN on the remote server, so it must be unique fleet-wide.
func newClientName() string {
	return "cl-" + uuid.NewString()
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	var f configs.ListFilter
	q := r.URL.Query()
	if raw := q.Get("owner_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(w, "invalid owner_id")
			return
		}
		f.OwnerID = &id
	}
	if raw := q.Get("server_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(w, "invalid server_id")
			return
		}
		f.ServerID = &id
	}
	if raw := q.Get("suspended"); raw != "" {
		suspended, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(w, "invalid suspended")
			return
		}
		f.Suspended = &suspended
	}

	list, err := s.configs.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(list, toConfigDTO))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	cfg, err := s.configs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigDTO(cfg))
}

func (s *Server) handleRevokeConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.configs.Revoke(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSuspendConfig(w http.ResponseWriter, r *http.Request) {
	s.handleSetSuspended(w, r, s.configs.Suspend)
}

func (s *Server) handleUnsuspendConfig(w http.ResponseWriter, r *http.Request) {
	s.handleSetSuspended(w, r, s.configs.Unsuspend)
}

func (s *Server) handleSetSuspended(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, configID int64) (*models.Config, error)) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	cfg, err := op(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigDTO(cfg))
}

func (s *Server) handleRenameConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.DisplayName == "" {
		badRequest(w, "display_name is required")
		return
	}

	cfg, err := s.configs.Rename(r.Context(), id, req.DisplayName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigDTO(cfg))
}

func (s *Server) handleDownloadConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	cfg, err := s.configs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := s.configs.Download(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-openvpn-profile")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cfg.Name+".ovpn"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// mapSlice converts a slice of models into their response DTOs.
func mapSlice[M any, D any](in []*M, f func(*M) D) []D {
	out := make([]D, 0, len(in))
	for _, m := range in {
		out = append(out, f(m))
	}
	return out
}
