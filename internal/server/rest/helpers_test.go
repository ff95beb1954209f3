package rest

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/tokenkeeper/internal/common"
	"github.com/dmitrijs2005/tokenkeeper/internal/cryptox"
	"github.com/dmitrijs2005/tokenkeeper/internal/dbx"
	"github.com/dmitrijs2005/tokenkeeper/internal/logging"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/auth"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/models"
	refreshtokensrepo "github.com/dmitrijs2005/tokenkeeper/internal/server/repositories/refreshtokens"
	usersrepo "github.com/dmitrijs2005/tokenkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type memUsers struct {
	mu   sync.Mutex
	byID map[string]*models.User
	n    int
}

func (m *memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	u.ID = fmt.Sprintf("00000000-0000-0000-0000-%012d", m.n)
	u.CreatedAt = time.Now()
	cp := *u
	m.byID[u.ID] = &cp
	return u, nil
}

func (m *memUsers) find(match func(*models.User) bool) (*models.User, error) {
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

type repoManager struct {
	users  *memUsers
	tokens *refreshtokensrepo.RedisRepository
}

func (m *repoManager) RunMigrations(context.Context, *sql.DB) error        { return nil }
func (m *repoManager) Users(dbx.DBTX) usersrepo.Repository                 { return m.users }
func (m *repoManager) RefreshTokens(dbx.DBTX) refreshtokensrepo.Repository { return m.tokens }

type testServer struct {
	router  *gin.Engine
	mock    sqlmock.Sqlmock
	codec   *auth.Codec
	metrics *metrics.Metrics
	redis   *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rm := &repoManager{
		users:  &memUsers{byID: map[string]*models.User{}},
		tokens: refreshtokensrepo.NewRedisRepository(rdb, "test"),
	}

	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret:   []byte(testSecret),
		Issuer:   "lots-of-fun-app",
		Audience: "lots-of-fun-users",
	})
	require.NoError(t, err)

	m := metrics.New()
	log := logging.Nop()
	tokens := services.NewTokenService(db, rm, codec, services.TokenSettings{AccessTTL: "15m", RefreshTTL: "7d"}, log, services.WithMetrics(m))
	authSvc, err := services.NewAuthService(db, rm, tokens, cryptox.NewBcryptHasher(bcrypt.MinCost), log)
	require.NoError(t, err)

	guard := auth.NewGuard(codec, auth.GuardConfig{ClockTolerance: auth.DefaultClockTolerance, MaxTokenAge: auth.DefaultMaxTokenAge})
	r := NewRouter(NewHandler(authSvc, tokens, log), guard, m, log, RouterConfig{})

	return &testServer{router: r, mock: mock, codec: codec, metrics: m, redis: mr}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// register expects the register transaction and returns the issued pair.
func (s *testServer) register(t *testing.T, email, userName string) services.TokenPair {
	t.Helper()
	s.mock.ExpectBegin()
	s.mock.ExpectCommit()
	w := s.do(t, http.MethodPost, "/auth/register", RegisterRequest{UserName: userName, Email: email, Password: "secret123"}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var pair services.TokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pair))
	return pair
}

// userID reads the subject of the pair's access token.
func (s *testServer) userID(t *testing.T, pair services.TokenPair) string {
	t.Helper()
	claims, err := s.codec.VerifyAccess(pair.AccessToken, 0)
	require.NoError(t, err)
	return claims.Subject
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}
