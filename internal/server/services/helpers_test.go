package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tokenkeeper/internal/common"
	"github.com/dmitrijs2005/tokenkeeper/internal/dbx"
	"github.com/dmitrijs2005/tokenkeeper/internal/logging"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/auth"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/models"
	refreshtokensrepo "github.com/dmitrijs2005/tokenkeeper/internal/server/repositories/refreshtokens"
	usersrepo "github.com/dmitrijs2005/tokenkeeper/internal/server/repositories/users"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memTokens is an in-memory refreshtokens.Repository.
type memTokens struct {
	mu   sync.Mutex
	recs map[string]*models.RefreshToken

	createErr error
	findErr   error
	deleteErr error
	// beforeDelete runs before DeleteByID takes the lock.
	beforeDelete func(id string)
}

func newMemTokens() *memTokens {
	return &memTokens{recs: map[string]*models.RefreshToken{}}
}

func (m *memTokens) Create(_ context.Context, t *models.RefreshToken) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[t.ID]; ok {
		return common.ErrStorageConflict
	}
	cp := *t
	m.recs[t.ID] = &cp
	return nil
}

func (m *memTokens) FindByID(_ context.Context, id string) (*models.RefreshToken, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.recs[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTokens) DeleteByID(_ context.Context, id string) (bool, error) {
	if m.beforeDelete != nil {
		m.beforeDelete(id)
	}
	if m.deleteErr != nil {
		return false, m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.recs[id]
	delete(m.recs, id)
	return ok, nil
}

func (m *memTokens) DeleteByUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.recs {
		if t.UserID == userID {
			delete(m.recs, id)
			n++
		}
	}
	return n, nil
}

func (m *memTokens) DeleteExpiredBefore(_ context.Context, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.recs {
		if t.ExpiresAt.Before(at) {
			delete(m.recs, id)
			n++
		}
	}
	return n, nil
}

func (m *memTokens) forUser(userID string) []*models.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RefreshToken
	for _, t := range m.recs {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

func (m *memTokens) set(t *models.RefreshToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[t.ID] = t
}

// memUsers is an in-memory users.Repository.
type memUsers struct {
	mu     sync.Mutex
	byID   map[string]*models.User
	nextID int

	createErr error
	getErr    error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*models.User{}}
}

func (m *memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u.ID = fmt.Sprintf("u-%d", m.nextID)
	u.CreatedAt = time.Now()
	cp := *u
	m.byID[u.ID] = &cp
	return u, nil
}

func (m *memUsers) find(match func(*models.User) bool) (*models.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Email == email })
}

func (m *memUsers) GetByUserName(_ context.Context, name string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.UserName == name })
}

type fakeRepoManager struct {
	u *memUsers
	r *memTokens
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error        { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokensrepo.Repository { return m.r }

type fixture struct {
	db      *sql.DB
	mock    sqlmock.Sqlmock
	clock   *fakeClock
	codec   *auth.Codec
	users   *memUsers
	tokens  *memTokens
	metrics *metrics.Metrics
	svc     *TokenService
}

func newFixture(t *testing.T, settings TokenSettings) *fixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret:   []byte("0123456789abcdef0123456789abcdef"),
		Issuer:   "lots-of-fun-app",
		Audience: "lots-of-fun-users",
		Now:      clock.Now,
	})
	require.NoError(t, err)

	f := &fixture{
		db:      db,
		mock:    mock,
		clock:   clock,
		codec:   codec,
		users:   newMemUsers(),
		tokens:  newMemTokens(),
		metrics: metrics.New(),
	}
	rm := &fakeRepoManager{u: f.users, r: f.tokens}
	f.svc = NewTokenService(db, rm, codec, settings, logging.Nop(), WithClock(clock.Now), WithMetrics(f.metrics))
	return f
}

func defaultSettings() TokenSettings {
	return TokenSettings{AccessTTL: DefaultAccessTTL, RefreshTTL: DefaultRefreshTTL}
}
