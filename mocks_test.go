package gatekeeper_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	gatekeeper "github.com/goliatone/go-gatekeeper"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"
)

// MockAuthProvider implements gatekeeper.AuthProvider
type MockAuthProvider struct {
	mock.Mock

	mu           sync.Mutex
	listener     gatekeeper.AuthStateListener
	unsubscribed atomic.Int32
}

func (m *MockAuthProvider) GetSession(ctx context.Context) (*gatekeeper.Session, error) {
	args := m.Called(ctx)
	sess, _ := args.Get(0).(*gatekeeper.Session)
	return sess, args.Error(1)
}

func (m *MockAuthProvider) OnAuthStateChange(listener gatekeeper.AuthStateListener) gatekeeper.Subscription {
	m.mu.Lock()
	m.listener = listener
	m.mu.Unlock()

	return gatekeeper.SubscriptionFunc(func() {
		m.unsubscribed.Add(1)
	})
}

func (m *MockAuthProvider) SignInWithPassword(ctx context.Context, email, password string) (*gatekeeper.Session, error) {
	args := m.Called(ctx, email, password)
	sess, _ := args.Get(0).(*gatekeeper.Session)
	return sess, args.Error(1)
}

func (m *MockAuthProvider) SignUp(ctx context.Context, email, password string) (*gatekeeper.Session, error) {
	args := m.Called(ctx, email, password)
	sess, _ := args.Get(0).(*gatekeeper.Session)
	return sess, args.Error(1)
}

func (m *MockAuthProvider) SignInWithMagicLink(ctx context.Context, email string, opts gatekeeper.MagicLinkOptions) error {
	args := m.Called(ctx, email, opts)
	return args.Error(0)
}

func (m *MockAuthProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Emit delivers an auth event to the subscribed listener
func (m *MockAuthProvider) Emit(event gatekeeper.AuthEvent, sess *gatekeeper.Session) {
	m.mu.Lock()
	l := m.listener
	m.mu.Unlock()

	if l != nil {
		l(context.Background(), event, sess)
	}
}

// MockMagicLinkProvider adds link verification
type MockMagicLinkProvider struct {
	MockAuthProvider
}

func (m *MockMagicLinkProvider) VerifyMagicLink(ctx context.Context, token string) (*gatekeeper.Session, map[string]any, error) {
	args := m.Called(ctx, token)
	sess, _ := args.Get(0).(*gatekeeper.Session)
	data, _ := args.Get(1).(map[string]any)
	return sess, data, args.Error(2)
}

var errBackendDown = errors.New("backend unavailable")

// fakeRecords is an in-memory RecordStore. Delays honour the context so a
// lost race releases the call.
type fakeRecords struct {
	mu     sync.Mutex
	tables map[string][]gatekeeper.Record

	queryDelay  time.Duration
	insertDelay time.Duration
	queryErr    error
	insertErr   error
	updateErr   error
	upsertErr   error
	giftErr     error

	// queryGate blocks profile queries until closed
	queryGate    chan struct{}
	queryStarted chan struct{}

	// afterQuery runs once a query has read its row, outside the lock
	afterQuery func(table string)

	queries atomic.Int32
	inserts atomic.Int32
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{tables: map[string][]gatekeeper.Record{}}
}

func (f *fakeRecords) seed(table string, rec gatekeeper.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = append(f.tables[table], copyRecord(rec))
}

func (f *fakeRecords) rows(table string) []gatekeeper.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gatekeeper.Record, 0, len(f.tables[table]))
	for _, r := range f.tables[table] {
		out = append(out, copyRecord(r))
	}
	return out
}

func (f *fakeRecords) find(table string, filter gatekeeper.Filter) gatekeeper.Record {
	for _, r := range f.rows(table) {
		if matches(r, filter) {
			return r
		}
	}
	return nil
}

func (f *fakeRecords) QueryRecord(ctx context.Context, table string, filter gatekeeper.Filter) (gatekeeper.Record, error) {
	if table == gatekeeper.TableProfiles {
		f.queries.Add(1)

		if f.queryStarted != nil {
			select {
			case f.queryStarted <- struct{}{}:
			default:
			}
		}

		if f.queryGate != nil {
			select {
			case <-f.queryGate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := sleep(ctx, f.queryDelay); err != nil {
			return nil, err
		}

		if f.queryErr != nil {
			return nil, f.queryErr
		}
	}

	f.mu.Lock()
	var found gatekeeper.Record
	for _, r := range f.tables[table] {
		if matches(r, filter) {
			found = copyRecord(r)
			break
		}
	}
	hook := f.afterQuery
	f.mu.Unlock()

	if hook != nil {
		hook(table)
	}
	return found, nil
}

func (f *fakeRecords) InsertRecord(ctx context.Context, table string, fields gatekeeper.Record) (gatekeeper.Record, error) {
	if table == gatekeeper.TableProfiles {
		f.inserts.Add(1)
		if err := sleep(ctx, f.insertDelay); err != nil {
			return nil, err
		}
		if f.insertErr != nil {
			return nil, f.insertErr
		}
	}

	if table == gatekeeper.TableGifts && f.giftErr != nil {
		return nil, f.giftErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	rec := copyRecord(fields)
	if table == gatekeeper.TableProfiles {
		if _, ok := rec["payment_amount"]; !ok {
			rec["payment_amount"] = int64(0)
		}
	}
	f.tables[table] = append(f.tables[table], rec)
	return copyRecord(rec), nil
}

func (f *fakeRecords) UpdateRecord(_ context.Context, table string, filter gatekeeper.Filter, fields gatekeeper.Record) error {
	if f.updateErr != nil {
		return f.updateErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, r := range f.tables[table] {
		if matches(r, filter) {
			for k, v := range fields {
				r[k] = v
			}
			n++
		}
	}
	if n == 0 {
		return goerrors.New(fmt.Sprintf("no %s record matches %v", table, map[string]any(filter)), goerrors.CategoryNotFound)
	}
	return nil
}

func (f *fakeRecords) UpsertRecord(_ context.Context, table string, fields gatekeeper.Record, conflict ...string) (gatekeeper.Record, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	key := gatekeeper.Filter{}
	for _, c := range conflict {
		key[c] = fields[c]
	}

	for _, r := range f.tables[table] {
		if len(key) > 0 && matches(r, key) {
			for k, v := range fields {
				r[k] = v
			}
			return copyRecord(r), nil
		}
	}

	rec := copyRecord(fields)
	f.tables[table] = append(f.tables[table], rec)
	return copyRecord(rec), nil
}

func matches(r gatekeeper.Record, filter gatekeeper.Filter) bool {
	for k, v := range filter {
		if fmt.Sprint(r[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func copyRecord(r gatekeeper.Record) gatekeeper.Record {
	out := make(gatekeeper.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// captureLogger records log calls
type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

type logCall struct {
	level   string
	message string
	args    []any
}

func (l *captureLogger) log(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: msg, args: args})
}

func (l *captureLogger) Debug(msg string, args ...any) { l.log("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.log("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.log("error", msg, args...) }

func (l *captureLogger) count(msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c.message == msg {
			n++
		}
	}
	return n
}

// captureSink records activity events
type captureSink struct {
	mu     sync.Mutex
	events []gatekeeper.ActivityEvent
}

func (s *captureSink) Record(_ context.Context, ev gatekeeper.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) types() []gatekeeper.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gatekeeper.ActivityEventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.EventType)
	}
	return out
}

// navRecorder records navigations
type navRecorder struct {
	mu     sync.Mutex
	routes []gatekeeper.Route
}

func (n *navRecorder) Navigate(route gatekeeper.Route) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
}

func (n *navRecorder) last() gatekeeper.Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.routes) == 0 {
		return ""
	}
	return n.routes[len(n.routes)-1]
}

func fixedHex() string { return "#A1B2C3" }

func session(userID string) *gatekeeper.Session {
	return &gatekeeper.Session{
		UserID:      userID,
		Email:       userID + "@example.com",
		AccessToken: "token-" + userID,
		ExpiresAt:   time.Now().Add(time.Hour).Truncate(time.Second),
	}
}

func profileRecord(userID string, paid, onboarded bool) gatekeeper.Record {
	status := "pending"
	if paid {
		status = "paid"
	}
	return gatekeeper.Record{
		"id":                   userID,
		"email":                userID + "@example.com",
		"hex_code":             "#00FF00",
		"payment_status":       status,
		"onboarding_completed": onboarded,
		"role":                 "user",
	}
}

// textCode returns the text code of a rich error or ""
func textCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

// MockRouterContext implements router.Context. Locals and request headers
// are read from plain maps, everything else goes through the mock.
type MockRouterContext struct {
	mock.Mock

	LocalsMock  map[any]any
	HeadersMock map[string]string
}

var _ router.Context = (*MockRouterContext)(nil)

func NewMockRouterContext() *MockRouterContext {
	return &MockRouterContext{
		LocalsMock:  map[any]any{},
		HeadersMock: map[string]string{},
	}
}

func (m *MockRouterContext) Method() string { return m.Called().String(0) }
func (m *MockRouterContext) Path() string   { return m.Called().String(0) }

func (m *MockRouterContext) Param(name string, defaultValue ...string) string {
	return m.Called(name, defaultValue).String(0)
}

func (m *MockRouterContext) ParamsInt(key string, defaultValue int) int {
	return m.Called(key, defaultValue).Int(0)
}

func (m *MockRouterContext) Query(name string, defaultValue string) string {
	return m.Called(name, defaultValue).String(0)
}

func (m *MockRouterContext) QueryInt(name string, defaultValue int) int {
	return m.Called(name, defaultValue).Int(0)
}

func (m *MockRouterContext) Queries() map[string]string {
	v, _ := m.Called().Get(0).(map[string]string)
	return v
}

func (m *MockRouterContext) Body() []byte {
	v, _ := m.Called().Get(0).([]byte)
	return v
}

func (m *MockRouterContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		m.LocalsMock[key] = value[0]
		return value[0]
	}
	return m.LocalsMock[key]
}

func (m *MockRouterContext) Render(name string, bind any, layouts ...string) error {
	return m.Called(name, bind, layouts).Error(0)
}

func (m *MockRouterContext) Cookie(cookie *router.Cookie) { m.Called(cookie) }

func (m *MockRouterContext) Cookies(key string, defaultValue ...string) string {
	return m.Called(key, defaultValue).String(0)
}

func (m *MockRouterContext) CookieParser(out any) error { return m.Called(out).Error(0) }

func (m *MockRouterContext) Redirect(location string, status ...int) error {
	return m.Called(location, status).Error(0)
}

func (m *MockRouterContext) RedirectToRoute(routeName string, params router.ViewContext, status ...int) error {
	return m.Called(routeName, params, status).Error(0)
}

func (m *MockRouterContext) RedirectBack(fallback string, status ...int) error {
	return m.Called(fallback, status).Error(0)
}

func (m *MockRouterContext) Header(key string) string { return m.HeadersMock[key] }
func (m *MockRouterContext) Referer() string          { return m.Called().String(0) }
func (m *MockRouterContext) OriginalURL() string      { return m.Called().String(0) }

func (m *MockRouterContext) Status(code int) router.Context {
	return m.Called(code).Get(0).(router.Context)
}

func (m *MockRouterContext) Send(body []byte) error         { return m.Called(body).Error(0) }
func (m *MockRouterContext) SendString(body string) error   { return m.Called(body).Error(0) }
func (m *MockRouterContext) JSON(code int, v any) error     { return m.Called(code, v).Error(0) }
func (m *MockRouterContext) NoContent(code int) error       { return m.Called(code).Error(0) }
func (m *MockRouterContext) Bind(v any) error               { return m.Called(v).Error(0) }
func (m *MockRouterContext) Next() error                    { return m.Called().Error(0) }
func (m *MockRouterContext) SetContext(ctx context.Context) { m.Called(ctx) }

func (m *MockRouterContext) SetHeader(key, value string) router.Context {
	return m.Called(key, value).Get(0).(router.Context)
}

func (m *MockRouterContext) Context() context.Context {
	return m.Called().Get(0).(context.Context)
}

func (m *MockRouterContext) Set(key string, value any) { m.Called(key, value) }

func (m *MockRouterContext) Get(key string, def any) any { return m.Called(key, def).Get(0) }

func (m *MockRouterContext) GetString(key string, def string) string {
	return m.Called(key, def).String(0)
}

func (m *MockRouterContext) GetInt(key string, def int) int { return m.Called(key, def).Int(0) }

func (m *MockRouterContext) GetBool(key string, def bool) bool {
	return m.Called(key, def).Bool(0)
}
