package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/uternity/gateway/internal/model"
	"github.com/uternity/gateway/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// --- テスト用ヘルパー ---

// fakeClock はテストから進められる時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// spyMetrics は記録されたメトリクスを保持するMetricsCollector。
type spyMetrics struct {
	mu            sync.Mutex
	logins        []string
	registrations []string
	evicted       map[string]int
}

func newSpyMetrics() *spyMetrics {
	return &spyMetrics{evicted: make(map[string]int)}
}

func (m *spyMetrics) RecordLogin(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins = append(m.logins, outcome)
}

func (m *spyMetrics) RecordRegistration(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registrations = append(m.registrations, outcome)
}

func (m *spyMetrics) RecordSessionEvicted(reason string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted[reason] += count
}

func (m *spyMetrics) RecordChatTurn(string)               {}
func (m *spyMetrics) RecordProviderLatency(time.Duration) {}
func (m *spyMetrics) RecordHTTPStatus(int)                {}

type testEnv struct {
	svc      *Service
	clock    *fakeClock
	metrics  *spyMetrics
	sessions *repository.MemorySessionRepo
	idents   *repository.MemoryIdentityRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newFakeClock()
	spy := newSpyMetrics()
	idents := repository.NewMemoryIdentityRepo()
	sessions := repository.NewMemorySessionRepo()
	svc := NewService(idents, sessions, NewBcryptHasher(bcrypt.MinCost), spy, ServiceConfig{
		Now: clock.Now,
	})
	return &testEnv{svc: svc, clock: clock, metrics: spy, sessions: sessions, idents: idents}
}

func (e *testEnv) register(t *testing.T, email, password, name string) {
	t.Helper()
	if err := e.svc.Register(context.Background(), email, password, name); err != nil {
		t.Fatalf("Register(%q) error = %v", email, err)
	}
}

// mockSessionRepo はエラー注入用のSessionRepository。
type mockSessionRepo struct {
	repository.SessionRepository
	findByTokenFn func(ctx context.Context, token string) (*model.Session, error)
}

func (m *mockSessionRepo) FindByToken(ctx context.Context, token string) (*model.Session, error) {
	return m.findByTokenFn(ctx, token)
}

// --- Register ---

func TestService_Register_NormalizesEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "  Alice@Example.COM ", "secret", "Alice")

	identity, err := env.idents.FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if identity == nil {
		t.Fatal("expected identity stored under normalized email")
	}
	if identity.PasswordHash == "secret" {
		t.Error("raw password must not be stored")
	}
	if !identity.IsActive {
		t.Error("new identity should be active")
	}
}

func TestService_Register_Duplicate_ReturnsConflictWithoutOverwrite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "first", "Alice")

	err := env.svc.Register(ctx, "ALICE@example.com", "second", "Mallory")
	if !model.IsKind(err, model.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var merr *model.Error
	if !errors.As(err, &merr) || merr.Message != "User already exists" {
		t.Errorf("unexpected error message: %v", err)
	}

	identity, _ := env.idents.FindByEmail(ctx, "alice@example.com")
	if identity.Name != "Alice" {
		t.Errorf("identity overwritten: name = %q", identity.Name)
	}
	if _, err := env.svc.Login(ctx, "alice@example.com", "first"); err != nil {
		t.Errorf("original password should still work: %v", err)
	}

	want := []string{"success", "conflict"}
	if len(env.metrics.registrations) != len(want) {
		t.Fatalf("registrations = %v, want %v", env.metrics.registrations, want)
	}
	for i := range want {
		if env.metrics.registrations[i] != want[i] {
			t.Errorf("registrations[%d] = %q, want %q", i, env.metrics.registrations[i], want[i])
		}
	}
}

// --- Login ---

func TestService_Login_Success(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "secret", "Alice")

	session, err := env.svc.Login(context.Background(), "Alice@Example.com", "secret")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if len(session.Token) != 43 {
		t.Errorf("token length = %d, want 43", len(session.Token))
	}
	if session.User.Email != "alice@example.com" || session.User.Name != "Alice" {
		t.Errorf("unexpected snapshot: %+v", session.User)
	}
	if got := session.ExpiresAt.Sub(session.IssuedAt); got != 24*time.Hour {
		t.Errorf("session lifetime = %v, want 24h", got)
	}
}

func TestService_Login_Failures(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		wantMsg  string
	}{
		{name: "unknown email", email: "nobody@example.com", password: "secret", wantMsg: "Invalid email or password"},
		{name: "wrong password", email: "alice@example.com", password: "wrong", wantMsg: "Invalid email or password"},
		{name: "deactivated", email: "bob@example.com", password: "secret", wantMsg: "Account is deactivated"},
	}

	env := newTestEnv(t)
	env.register(t, "alice@example.com", "secret", "Alice")
	env.register(t, "bob@example.com", "secret", "Bob")
	if err := env.svc.Deactivate(context.Background(), "bob@example.com"); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := env.svc.Login(context.Background(), tt.email, tt.password)
			if session != nil {
				t.Error("failed login must not return a session")
			}
			if !model.IsKind(err, model.KindUnauthorized) {
				t.Fatalf("expected unauthorized, got %v", err)
			}
			var merr *model.Error
			if !errors.As(err, &merr) || merr.Message != tt.wantMsg {
				t.Errorf("message = %v, want %q", err, tt.wantMsg)
			}
		})
	}

	if n, _ := env.sessions.Count(context.Background()); n != 0 {
		t.Errorf("no session should be stored after failed logins, got %d", n)
	}
}

func TestService_Login_TokensAreUnique(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "secret", "Alice")

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		session, err := env.svc.Login(context.Background(), "alice@example.com", "secret")
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if seen[session.Token] {
			t.Fatalf("duplicate token issued: %s", session.Token)
		}
		seen[session.Token] = true
	}
}

func TestService_LongPassword_RegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	password := strings.Repeat("p", 100)
	env.register(t, "long@example.com", password, "Long")

	session, err := env.svc.Login(context.Background(), "long@example.com", password)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.User.Email != "long@example.com" {
		t.Errorf("email = %q", session.User.Email)
	}

	_, err = env.svc.Login(context.Background(), "long@example.com", strings.Repeat("p", 99)+"q")
	if !model.IsKind(err, model.KindUnauthorized) {
		t.Errorf("expected unauthorized for wrong long password, got %v", err)
	}
}

func TestService_ConcurrentLoginAuthenticateLogout(t *testing.T) {
	const n = 30
	env := newTestEnv(t)
	env.register(t, "alice@example.com", "secret", "Alice")
	env.register(t, "bob@example.com", "secret", "Bob")
	ctx := context.Background()

	// aliceはログインと認証のみ、bobはログイン直後にログアウトする。
	var wg sync.WaitGroup
	tokens := make(chan string, n)
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			session, err := env.svc.Login(ctx, "alice@example.com", "secret")
			if err != nil {
				errs <- err
				return
			}
			if _, err := env.svc.Authenticate(ctx, session.Token); err != nil {
				errs <- err
				return
			}
			tokens <- session.Token
		}()
		go func() {
			defer wg.Done()
			session, err := env.svc.Login(ctx, "bob@example.com", "secret")
			if err != nil {
				errs <- err
				return
			}
			if err := env.svc.Logout(ctx, session.User); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(tokens)
	close(errs)

	for err := range errs {
		t.Errorf("concurrent call error = %v", err)
	}

	seen := make(map[string]bool)
	for token := range tokens {
		if seen[token] {
			t.Fatalf("duplicate token issued: %s", token)
		}
		seen[token] = true
		if _, err := env.svc.Authenticate(ctx, token); err != nil {
			t.Errorf("Authenticate(%s) error = %v", token, err)
		}
	}
	if len(seen) != n {
		t.Errorf("alice tokens = %d, want %d", len(seen), n)
	}

	// bobのログアウトはそれぞれ1件ずつ削除するので、aliceの分だけが残る。
	if got, _ := env.sessions.Count(ctx); got != n {
		t.Errorf("session count = %d, want %d", got, n)
	}
	if got := len(env.metrics.logins); got != 2*n {
		t.Errorf("recorded logins = %d, want %d", got, 2*n)
	}
}

// --- Authenticate ---

func TestService_Authenticate_ExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "secret", "Alice")
	session, _ := env.svc.Login(ctx, "alice@example.com", "secret")

	env.clock.Advance(24*time.Hour - time.Second)
	user, err := env.svc.Authenticate(ctx, session.Token)
	if err != nil {
		t.Fatalf("token should be valid one second before expiry: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("Email = %q", user.Email)
	}

	env.clock.Advance(2 * time.Second)
	_, err = env.svc.Authenticate(ctx, session.Token)
	if !model.IsKind(err, model.KindUnauthorized) {
		t.Fatalf("expected unauthorized after expiry, got %v", err)
	}
	var merr *model.Error
	if errors.As(err, &merr) && merr.Message != "Token expired" {
		t.Errorf("message = %q, want %q", merr.Message, "Token expired")
	}

	// 期限切れセッションは確認時に削除される
	if found, _ := env.sessions.FindByToken(ctx, session.Token); found != nil {
		t.Error("expired session should be evicted on access")
	}
	if env.metrics.evicted["lazy"] != 1 {
		t.Errorf("lazy evictions = %d, want 1", env.metrics.evicted["lazy"])
	}

	_, err = env.svc.Authenticate(ctx, session.Token)
	var again *model.Error
	if !errors.As(err, &again) || again.Message != "Invalid or expired token" {
		t.Errorf("second check should report unknown token, got %v", err)
	}
}

func TestService_Authenticate_ExactlyAtExpiry_Fails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "secret", "Alice")
	session, _ := env.svc.Login(ctx, "alice@example.com", "secret")

	env.clock.Advance(24 * time.Hour)
	if _, err := env.svc.Authenticate(ctx, session.Token); err == nil {
		t.Error("token must be invalid at expires_at")
	}
}

func TestService_Authenticate_UnknownOrEmptyToken(t *testing.T) {
	env := newTestEnv(t)
	for _, token := range []string{"", "not-a-token"} {
		if _, err := env.svc.Authenticate(context.Background(), token); !model.IsKind(err, model.KindUnauthorized) {
			t.Errorf("Authenticate(%q) = %v, want unauthorized", token, err)
		}
	}
}

func TestService_Authenticate_RepositoryError_ReturnsInternal(t *testing.T) {
	repoErr := errors.New("boom")
	svc := NewService(
		repository.NewMemoryIdentityRepo(),
		&mockSessionRepo{findByTokenFn: func(context.Context, string) (*model.Session, error) {
			return nil, repoErr
		}},
		NewBcryptHasher(bcrypt.MinCost),
		nil,
		ServiceConfig{},
	)

	_, err := svc.Authenticate(context.Background(), "token")
	if !model.IsKind(err, model.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if !errors.Is(err, repoErr) {
		t.Error("internal error should wrap the repository error")
	}
}

func TestService_Authenticate_ReturnsSnapshotNotLiveIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "secret", "Alice")
	session, _ := env.svc.Login(ctx, "alice@example.com", "secret")

	_ = env.svc.Deactivate(ctx, "alice@example.com")

	user, err := env.svc.Authenticate(ctx, session.Token)
	if err != nil {
		t.Fatalf("existing session should remain valid after deactivation: %v", err)
	}
	if user.Name != "Alice" {
		t.Errorf("Name = %q", user.Name)
	}
}

// --- Logout ---

func TestService_Logout_ThenAuthenticateFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "secret", "Alice")
	session, _ := env.svc.Login(ctx, "alice@example.com", "secret")

	if err := env.svc.Logout(ctx, session.User); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := env.svc.Authenticate(ctx, session.Token); err == nil {
		t.Error("token must be invalid after logout")
	}
}

func TestService_Logout_RemovesFirstSessionOfUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "secret", "Alice")
	first, _ := env.svc.Login(ctx, "alice@example.com", "secret")
	second, _ := env.svc.Login(ctx, "alice@example.com", "secret")

	// 2番目のトークンで認証したユーザーのログアウトでも、発行順で最初のセッションが削除される
	if err := env.svc.Logout(ctx, second.User); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := env.svc.Authenticate(ctx, first.Token); err == nil {
		t.Error("first session should be removed")
	}
	if _, err := env.svc.Authenticate(ctx, second.Token); err != nil {
		t.Errorf("second session should survive: %v", err)
	}
}

func TestService_Logout_NoSession_IsNoop(t *testing.T) {
	env := newTestEnv(t)
	err := env.svc.Logout(context.Background(), model.IdentitySnapshot{Email: "ghost@example.com"})
	if err != nil {
		t.Errorf("Logout() error = %v, want nil", err)
	}
}

// --- ListIdentities / Deactivate ---

func TestService_ListIdentities_RegistrationOrder(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "b@example.com", "x", "B")
	env.register(t, "a@example.com", "x", "A")

	views, err := env.svc.ListIdentities(context.Background())
	if err != nil {
		t.Fatalf("ListIdentities() error = %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("len = %d, want 2", len(views))
	}
	if views[0].Email != "b@example.com" || views[1].Email != "a@example.com" {
		t.Errorf("unexpected order: %+v", views)
	}
	if !views[0].IsActive {
		t.Error("expected active identity")
	}
}

func TestService_Deactivate_Unknown_ReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)
	err := env.svc.Deactivate(context.Background(), "ghost@example.com")
	if !model.IsKind(err, model.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// --- SweepExpired / Stats / Seed ---

func TestService_SweepExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "secret", "Alice")
	old, _ := env.svc.Login(ctx, "alice@example.com", "secret")

	env.clock.Advance(12 * time.Hour)
	fresh, _ := env.svc.Login(ctx, "alice@example.com", "secret")

	env.clock.Advance(12 * time.Hour)
	deleted, err := env.svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if found, _ := env.sessions.FindByToken(ctx, old.Token); found != nil {
		t.Error("expired session should be swept")
	}
	if _, err := env.svc.Authenticate(ctx, fresh.Token); err != nil {
		t.Errorf("fresh session should survive: %v", err)
	}
	if env.metrics.evicted["sweep"] != 1 {
		t.Errorf("sweep evictions = %d, want 1", env.metrics.evicted["sweep"])
	}
}

func TestService_Stats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice@example.com", "secret", "Alice")
	env.register(t, "bob@example.com", "secret", "Bob")
	_, _ = env.svc.Login(ctx, "alice@example.com", "secret")

	users, sessions, err := env.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if users != 2 || sessions != 1 {
		t.Errorf("Stats() = (%d, %d), want (2, 1)", users, sessions)
	}
}

func TestService_SeedDemoUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.svc.SeedDemoUsers(ctx); err != nil {
		t.Fatalf("SeedDemoUsers() error = %v", err)
	}
	// 2回目は登録済みとしてスキップされる
	if err := env.svc.SeedDemoUsers(ctx); err != nil {
		t.Fatalf("second SeedDemoUsers() error = %v", err)
	}

	if _, err := env.svc.Login(ctx, "demo@uternity.com", "demo123"); err != nil {
		t.Errorf("demo login failed: %v", err)
	}
	if _, err := env.svc.Login(ctx, "demo@uternity.com", "wrong"); err == nil {
		t.Error("demo login with wrong password must fail")
	}
	session, err := env.svc.Login(ctx, "admin@uternity.com", "admin123")
	if err != nil {
		t.Fatalf("admin login failed: %v", err)
	}
	if session.User.Name != "Admin User" {
		t.Errorf("Name = %q, want Admin User", session.User.Name)
	}
}

func TestIsExpired(t *testing.T) {
	expires := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	session := &model.Session{ExpiresAt: expires}

	tests := []struct {
		now  time.Time
		want bool
	}{
		{now: expires.Add(-time.Nanosecond), want: false},
		{now: expires, want: true},
		{now: expires.Add(time.Second), want: true},
	}
	for _, tt := range tests {
		if got := IsExpired(session, tt.now); got != tt.want {
			t.Errorf("IsExpired(now=%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}
