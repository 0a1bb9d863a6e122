package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/akazakov/vpnmanager/internal/common"
	"github.com/akazakov/vpnmanager/internal/dbx"
	"github.com/akazakov/vpnmanager/internal/logging"
	"github.com/akazakov/vpnmanager/internal/server/gateway"
	"github.com/akazakov/vpnmanager/internal/server/models"
	configsrepo "github.com/akazakov/vpnmanager/internal/server/repositories/configs"
	serversrepo "github.com/akazakov/vpnmanager/internal/server/repositories/servers"
	usersrepo "github.com/akazakov/vpnmanager/internal/server/repositories/users"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// The fakes below are in-memory repositories implementing the repository
// interfaces. Services run their real transaction scopes against an
// in-memory sqlite handle; the fakes ignore the DBTX they are handed.

type fakeUsersRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.User
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{nextID: 1, byID: make(map[int64]*models.User)}
}

func (f *fakeUsersRepo) add(u models.User) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = f.nextID
	f.nextID++
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	f.byID[u.ID] = &u
	cp := u
	return &cp
}

func (f *fakeUsersRepo) GetOrCreate(_ context.Context, tgID int64, username *string, referrerID *int64) (*models.User, error) {
	f.mu.Lock()
	for _, u := range f.byID {
		if u.TelegramID == tgID {
			cp := *u
			f.mu.Unlock()
			return &cp, nil
		}
	}
	f.mu.Unlock()
	return f.add(models.User{TelegramID: tgID, Username: username, ReferrerID: referrerID, Balance: decimal.Zero}), nil
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsersRepo) GetByTelegramID(_ context.Context, tgID int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.TelegramID == tgID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrUserNotFound
}

func (f *fakeUsersRepo) List(context.Context) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.User
	for _, u := range f.byID {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeUsersRepo) SearchByUsername(context.Context, string, int) ([]*models.User, error) {
	return nil, nil
}

func (f *fakeUsersRepo) UpdateBalance(_ context.Context, id int64, balance decimal.Decimal) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	u.Balance = balance
	cp := *u
	return &cp, nil
}

func (f *fakeUsersRepo) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return common.ErrUserNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeUsersRepo) CountReferrals(_ context.Context, id int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, u := range f.byID {
		if u.ReferrerID != nil && *u.ReferrerID == id {
			n++
		}
	}
	return n, nil
}

func (f *fakeUsersRepo) ListReferrals(_ context.Context, id int64, limit, offset int) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*models.User
	for _, u := range f.byID {
		if u.ReferrerID != nil && *u.ReferrerID == id {
			cp := *u
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

type fakeServersRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*models.Server
}

func newFakeServersRepo() *fakeServersRepo {
	return &fakeServersRepo{nextID: 1, byID: make(map[int64]*models.Server)}
}

func (f *fakeServersRepo) add(s models.Server) *models.Server {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = f.nextID
	f.nextID++
	f.byID[s.ID] = &s
	cp := s
	return &cp
}

func (f *fakeServersRepo) Create(_ context.Context, s *models.Server) (*models.Server, error) {
	return f.add(*s), nil
}

func (f *fakeServersRepo) GetByID(_ context.Context, id int64) (*models.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, common.ErrServerNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeServersRepo) List(context.Context, serversrepo.ListFilter) ([]*models.Server, error) {
	return nil, nil
}

func (f *fakeServersRepo) Update(_ context.Context, id int64, upd serversrepo.Update) (*models.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, common.ErrServerNotFound
	}
	if upd.Name != nil {
		s.Name = *upd.Name
	}
	if upd.APIKey != nil {
		s.APIKey = *upd.APIKey
	}
	cp := *s
	return &cp, nil
}

func (f *fakeServersRepo) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return common.ErrServerNotFound
	}
	delete(f.byID, id)
	return nil
}

type fakeConfigsRepo struct {
	mu        sync.Mutex
	nextID    int64
	byID      map[int64]*models.Config
	createErr error
}

func newFakeConfigsRepo() *fakeConfigsRepo {
	return &fakeConfigsRepo{nextID: 1, byID: make(map[int64]*models.Config)}
}

func (f *fakeConfigsRepo) add(c models.Config) *models.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = f.nextID
	f.nextID++
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	f.byID[c.ID] = &c
	cp := c
	return &cp
}

func (f *fakeConfigsRepo) Create(_ context.Context, c *models.Config) (*models.Config, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.add(*c), nil
}

func (f *fakeConfigsRepo) GetByID(_ context.Context, id int64) (*models.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return nil, common.ErrConfigNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConfigsRepo) List(_ context.Context, flt configsrepo.ListFilter) ([]*models.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Config
	for _, c := range f.byID {
		if flt.OwnerID != nil && c.OwnerID != *flt.OwnerID {
			continue
		}
		if flt.ServerID != nil && c.ServerID != *flt.ServerID {
			continue
		}
		if flt.Suspended != nil && c.Suspended != *flt.Suspended {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeConfigsRepo) CountActive(_ context.Context, ownerID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.byID {
		if c.OwnerID == ownerID && !c.Suspended {
			n++
		}
	}
	return n, nil
}

func (f *fakeConfigsRepo) SetSuspended(_ context.Context, id int64, suspended bool) (*models.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return nil, common.ErrConfigNotFound
	}
	c.Suspended = suspended
	if suspended {
		now := time.Now()
		c.SuspendedAt = &now
	} else {
		c.SuspendedAt = nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConfigsRepo) UpdateDisplayName(_ context.Context, id int64, displayName string) (*models.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[id]
	if !ok {
		return nil, common.ErrConfigNotFound
	}
	c.DisplayName = displayName
	cp := *c
	return &cp, nil
}

func (f *fakeConfigsRepo) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return common.ErrConfigNotFound
	}
	delete(f.byID, id)
	return nil
}

type fakeRepoManager struct {
	users   *fakeUsersRepo
	servers *fakeServersRepo
	configs *fakeConfigsRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository          { return m.users }
func (m *fakeRepoManager) Servers(dbx.DBTX) serversrepo.Repository      { return m.servers }
func (m *fakeRepoManager) Configs(dbx.DBTX) configsrepo.Repository      { return m.configs }

// fakeAPI records control-plane calls and returns configured errors.
type fakeAPI struct {
	mu sync.Mutex

	created     []string
	revoked     []string
	suspended   []string
	unsuspended []string
	downloaded  []string

	createErr    error
	revokeErr    error
	suspendErr   error
	unsuspendErr error
	// failSuspendFor limits suspendErr to one client name.
	failSuspendFor string

	profile []byte
	blocked []string

	closed int
}

func (f *fakeAPI) CreateClient(_ context.Context, name string, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, name)
	return "/etc/openvpn/" + name + ".ovpn", nil
}

func (f *fakeAPI) DownloadConfig(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloaded = append(f.downloaded, name)
	return f.profile, nil
}

func (f *fakeAPI) RevokeClient(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revoked = append(f.revoked, name)
	return nil
}

func (f *fakeAPI) SuspendClient(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.suspendErr != nil && (f.failSuspendFor == "" || f.failSuspendFor == name) {
		return f.suspendErr
	}
	f.suspended = append(f.suspended, name)
	return nil
}

func (f *fakeAPI) UnsuspendClient(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsuspendErr != nil {
		return f.unsuspendErr
	}
	f.unsuspended = append(f.unsuspended, name)
	return nil
}

func (f *fakeAPI) ListBlocked(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked, nil
}

func (f *fakeAPI) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

// env wires real services over the fakes.
type env struct {
	db      *sql.DB
	rm      *fakeRepoManager
	api     *fakeAPI
	users   *fakeUsersRepo
	servers *fakeServersRepo
	cfgs    *fakeConfigsRepo

	configSvc  *ConfigService
	billingSvc *BillingService
	userSvc    *UserService
	serverSvc  *ServerService
}

func newEnv(t *testing.T, perConfigCost string) *env {
	t.Helper()

	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	t.Cleanup(func() { _ = db.Close() })

	e := &env{
		db:      db,
		api:     &fakeAPI{profile: []byte("client\ndev tun\n")},
		users:   newFakeUsersRepo(),
		servers: newFakeServersRepo(),
		cfgs:    newFakeConfigsRepo(),
	}
	e.rm = &fakeRepoManager{users: e.users, servers: e.servers, configs: e.cfgs}

	factory := gateway.Factory(func(ip string, port int, apiKey string) gateway.API { return e.api })
	log := logging.NopLogger{}

	e.configSvc = NewConfigService(db, e.rm, factory, log)
	e.billingSvc = NewBillingService(db, e.rm, e.configSvc, decimal.RequireFromString(perConfigCost), log)
	e.userSvc = NewUserService(db, e.rm, e.configSvc, log)
	e.serverSvc = NewServerService(db, e.rm, factory, log)
	return e
}

func (e *env) addUser(t *testing.T, balance string) *models.User {
	t.Helper()
	return e.users.add(models.User{TelegramID: time.Now().UnixNano(), Balance: decimal.RequireFromString(balance)})
}

func (e *env) addServer(t *testing.T) *models.Server {
	t.Helper()
	return e.servers.add(models.Server{Name: "fra-1", IP: "10.0.0.1", Port: 443, APIKey: "k"})
}

func (e *env) addConfig(t *testing.T, ownerID, serverID int64, name string, suspended bool) *models.Config {
	t.Helper()
	c := models.Config{Name: name, DisplayName: name, OwnerID: ownerID, ServerID: serverID, Suspended: suspended}
	if suspended {
		now := time.Now()
		c.SuspendedAt = &now
	}
	return e.cfgs.add(c)
}
