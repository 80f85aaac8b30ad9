package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/assessor/internal/bank"
	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/integrity"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/notify"
	"github.com/pavelanni/assessor/internal/scoring"
	"github.com/pavelanni/assessor/internal/session"
	"github.com/pavelanni/assessor/internal/store"
)

const (
	answerText = "Validate every remote call on the server before applying it."
	answerCode = "local ok = typeof(x) == 'number'"
)

type testEnv struct {
	router http.Handler
	store  *store.Store
}

func newTestEnv(t *testing.T, maxSkips int) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	b, err := bank.New([]model.Question{
		{Text: "How do you protect the server?", RequiresText: true, Points: 5},
		{Text: "Write a debounce.", RequiresText: true, RequiresCode: true, Points: 5},
	}, nil)
	if err != nil {
		t.Fatalf("bank.New: %v", err)
	}
	eng, err := scoring.New(scoring.DefaultRules(), scoring.DefaultGrades())
	if err != nil {
		t.Fatalf("scoring.New: %v", err)
	}
	cfg := session.DefaultConfig()
	cfg.MaxSkips = maxSkips
	mgr := session.NewManager(cfg, session.Deps{
		Bank:      b,
		Engine:    eng,
		Integrity: integrity.DefaultConfig(),
		Notifier:  notify.Log{},
		Recorder:  st,
	}, st)

	r := chi.NewRouter()
	New(mgr, b, st, Config{MaxSkips: maxSkips, AuthTTL: time.Hour}).Routes(r)
	return &testEnv{router: r, store: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}

func validInfo() model.PersonalInfo {
	return model.PersonalInfo{
		FullName:     "Alice Doe",
		Username:     "alice_dev",
		DiscordID:    "alice#0001",
		Age:          21,
		Nationality:  "Canadian",
		Timezone:     "UTC-5",
		Availability: "Evenings",
		Experience:   "Three years of scripting",
		Motivation:   "I enjoy building systems.",
	}
}

// startSession creates a session and moves it to the first question.
func (e *testEnv) startSession(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions", nil)
	expectStatus(t, rec, http.StatusCreated)
	id := decodeBody[session.View](t, rec).SessionID

	expectStatus(t, e.do(t, http.MethodPost, "/api/sessions/"+id+"/rules", nil), http.StatusOK)
	expectStatus(t, e.do(t, http.MethodPost, "/api/sessions/"+id+"/personal-info", validInfo()), http.StatusOK)
	return id
}

func TestCandidateFlow(t *testing.T) {
	env := newTestEnv(t, 1)
	id := env.startSession(t)
	base := "/api/sessions/" + id

	rec := env.do(t, http.MethodPost, base+"/advance", nil)
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	verr := decodeBody[errorResponse](t, rec)
	if verr.Error != "ValidationFailed" || len(verr.Fields) != 1 || verr.Fields[0].Field != "text" {
		t.Errorf("validation response = %+v", verr)
	}

	rec = env.do(t, http.MethodPost, base+"/skip", nil)
	expectStatus(t, rec, http.StatusOK)
	v := decodeBody[session.View](t, rec)
	if v.Current == nil || v.Current.Index != 2 || v.SkipsRemaining != 0 {
		t.Fatalf("after skip: %+v", v)
	}

	rec = env.do(t, http.MethodPost, base+"/skip", nil)
	expectStatus(t, rec, http.StatusConflict)
	if msg := decodeBody[errorResponse](t, rec); msg.Error != "NoSkipCredits" || msg.Message != "You have no skips left." {
		t.Errorf("skip error = %+v", msg)
	}

	expectStatus(t, env.do(t, http.MethodPut, base+"/answers/2", answerRequest{Kind: model.AnswerText, Value: answerText}), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPut, base+"/answers/2", answerRequest{Kind: model.AnswerCode, Value: answerCode}), http.StatusOK)
	rec = env.do(t, http.MethodPost, base+"/advance", nil)
	expectStatus(t, rec, http.StatusOK)
	if v := decodeBody[session.View](t, rec); v.Current == nil || v.Current.Index != 1 {
		t.Fatalf("skipped question not offered: %+v", v)
	}

	expectStatus(t, env.do(t, http.MethodPut, base+"/answers/1", answerRequest{Kind: model.AnswerText, Value: answerText}), http.StatusOK)
	rec = env.do(t, http.MethodPost, base+"/advance", nil)
	expectStatus(t, rec, http.StatusOK)
	if v := decodeBody[session.View](t, rec); v.Phase != model.PhaseSubmitting || v.Progress != 90 {
		t.Fatalf("expected submitting at 90%%: %+v", v)
	}
	expectStatus(t, env.do(t, http.MethodPost, base+"/return", nil), http.StatusConflict)

	rec = env.do(t, http.MethodPost, base+"/submit", nil)
	expectStatus(t, rec, http.StatusOK)
	sub := decodeBody[submitResponse](t, rec)
	if sub.SessionID != id || sub.Report != "alice_dev_"+id+".txt" || sub.Grade == "" {
		t.Errorf("submit response = %+v", sub)
	}

	rec = env.do(t, http.MethodPost, base+"/submit", nil)
	expectStatus(t, rec, http.StatusConflict)
	if msg := decodeBody[errorResponse](t, rec); msg.Error != "SessionClosed" {
		t.Errorf("second submit = %+v", msg)
	}

	doc, err := env.store.GetReport(context.Background(), id)
	if err != nil || doc == nil {
		t.Fatalf("report not stored: %v", err)
	}
	if !strings.Contains(doc.Body, answerText) {
		t.Error("stored report missing the answer text")
	}
}

func TestAnswerErrors(t *testing.T) {
	env := newTestEnv(t, 2)
	id := env.startSession(t)
	base := "/api/sessions/" + id

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"non-numeric index", base + "/answers/abc", answerRequest{Kind: model.AnswerText, Value: "x"}, http.StatusBadRequest, "InvalidQuestion"},
		{"out of range", base + "/answers/9", answerRequest{Kind: model.AnswerText, Value: "x"}, http.StatusBadRequest, "InvalidQuestion"},
		{"bad kind", base + "/answers/1", answerRequest{Kind: "video", Value: "x"}, http.StatusBadRequest, "InvalidAnswerKind"},
		{"bad body", base + "/answers/1", "not an object", http.StatusBadRequest, "BadRequest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, tt.path, tt.body)
			expectStatus(t, rec, tt.status)
			if got := decodeBody[errorResponse](t, rec).Error; got != tt.code {
				t.Errorf("error = %q, want %q", got, tt.code)
			}
		})
	}
}

func TestPersonalInfoValidation(t *testing.T) {
	env := newTestEnv(t, 2)
	rec := env.do(t, http.MethodPost, "/api/sessions", nil)
	id := decodeBody[session.View](t, rec).SessionID
	base := "/api/sessions/" + id

	expectStatus(t, env.do(t, http.MethodPost, base+"/personal-info", validInfo()), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodPost, base+"/rules", nil), http.StatusOK)

	info := validInfo()
	info.FullName = ""
	rec = env.do(t, http.MethodPost, base+"/personal-info", info)
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	fields := decodeBody[errorResponse](t, rec).Fields
	if len(fields) != 1 || fields[0].Field != "full_name" {
		t.Errorf("fields = %+v", fields)
	}

	rec = env.do(t, http.MethodGet, base, nil)
	if v := decodeBody[session.View](t, rec); v.Phase != model.PhasePersonalInfo {
		t.Errorf("phase changed on invalid input: %s", v.Phase)
	}
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t, 2)
	id := env.startSession(t)
	base := "/api/sessions/" + id

	expectStatus(t, env.do(t, http.MethodPost, base+"/events/focus", focusRequest{Hidden: true}), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodPost, base+"/events/keystrokes", keystrokeRequest{IntervalsMs: []float64{120, 80, 200}}), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodPost, base+"/events/activity", activityRequest{Kind: model.ActivityPaste, Payload: map[string]any{"chars": 40}}), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodPost, base+"/events/activity", activityRequest{Kind: model.ActivityTabSwitch}), http.StatusBadRequest)

	rec := env.do(t, http.MethodPost, base+"/help", nil)
	expectStatus(t, rec, http.StatusAccepted)
	if msg := decodeBody[map[string]string](t, rec)["message"]; !strings.Contains(msg, "reviewer has been notified") {
		t.Errorf("help message = %q", msg)
	}

	v := decodeBody[session.View](t, env.do(t, http.MethodGet, base, nil))
	if v.Integrity.TabSwitches != 1 || v.Integrity.SuspiciousActivities < 2 {
		t.Errorf("integrity = %+v", v.Integrity)
	}
}

func TestResetAndRestore(t *testing.T) {
	env := newTestEnv(t, 2)
	id := env.startSession(t)
	base := "/api/sessions/" + id

	rec := env.do(t, http.MethodPost, base+"/reset", nil)
	expectStatus(t, rec, http.StatusOK)
	if v := decodeBody[session.View](t, rec); v.Phase != model.PhaseRules || v.Progress != 0 {
		t.Errorf("after reset = %+v", v)
	}
	data, found, err := env.store.LoadState(context.Background(), id)
	if err != nil || !found || !strings.Contains(string(data), `"phase":"rules"`) {
		t.Errorf("reset state not persisted: %s, %v, %v", data, found, err)
	}
}

func TestSessionNotFoundLocalized(t *testing.T) {
	env := newTestEnv(t, 2)

	rec := env.do(t, http.MethodGet, "/api/sessions/DXT-missing", nil)
	expectStatus(t, rec, http.StatusNotFound)
	if msg := decodeBody[errorResponse](t, rec).Message; msg != "Assessment session not found." {
		t.Errorf("message = %q", msg)
	}

	rec = env.do(t, http.MethodGet, "/api/sessions/DXT-missing", nil, "Accept-Language", "ru")
	if msg := decodeBody[errorResponse](t, rec).Message; msg != "Сессия не найдена." {
		t.Errorf("ru message = %q", msg)
	}
}

func TestIndexAndQuestions(t *testing.T) {
	env := newTestEnv(t, 2)

	rec := env.do(t, http.MethodGet, "/", nil)
	expectStatus(t, rec, http.StatusOK)
	body := rec.Body.String()
	for _, want := range []string{"Scripter Assessment", "2 questions in this assessment.", "2 skips remaining."} {
		if !strings.Contains(body, want) {
			t.Errorf("index missing %q", want)
		}
	}

	rec = env.do(t, http.MethodGet, "/api/questions", nil)
	expectStatus(t, rec, http.StatusOK)
	out := decodeBody[struct {
		Questions   []model.Question `json:"questions"`
		TotalPoints int              `json:"total_points"`
	}](t, rec)
	if len(out.Questions) != 2 || out.TotalPoints != 10 || out.Questions[1].Index != 2 {
		t.Errorf("questions = %+v", out)
	}
}

func cookieFrom(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			found = c
		}
	}
	return found
}

func (e *testEnv) postForm(path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(path string, accept string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestAdminFlow(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.store.CreateUser(ctx, model.User{Username: "admin", DisplayName: "Admin", PasswordHash: string(hash), Role: model.UserRoleAdmin, Active: true}); err != nil {
		t.Fatal(err)
	}

	// A finished submission to list.
	id := env.startSession(t)
	base := "/api/sessions/" + id
	env.do(t, http.MethodPut, base+"/answers/1", answerRequest{Kind: model.AnswerText, Value: answerText})
	expectStatus(t, env.do(t, http.MethodPost, base+"/submit", nil), http.StatusOK)

	rec := env.get("/admin/sessions", "")
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/admin/login" {
		t.Fatalf("unauthenticated = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	rec = env.get("/admin/sessions", "application/json")
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = env.get("/admin/login", "")
	expectStatus(t, rec, http.StatusOK)
	csrf := cookieFrom(rec, csrfCookieName)
	if csrf == nil || !strings.Contains(rec.Body.String(), csrf.Value) {
		t.Fatal("login page should embed the CSRF token")
	}

	form := url.Values{"username": {"admin"}, "password": {"s3cret"}}
	expectStatus(t, env.postForm("/admin/login", form, csrf), http.StatusForbidden)

	form.Set("csrf_token", csrf.Value)
	form.Set("password", "wrong")
	rec = env.postForm("/admin/login", form, csrf)
	expectStatus(t, rec, http.StatusUnauthorized)
	if !strings.Contains(rec.Body.String(), "Invalid username or password.") {
		t.Error("login error not rendered")
	}

	csrf = cookieFrom(rec, csrfCookieName)
	form.Set("csrf_token", csrf.Value)
	form.Set("password", "s3cret")
	rec = env.postForm("/admin/login", form, csrf)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/admin/sessions" {
		t.Fatalf("login = %d %q", rec.Code, rec.Header().Get("Location"))
	}
	auth := cookieFrom(rec, sessionCookieName)
	if auth == nil || auth.Value == "" {
		t.Fatal("no auth cookie")
	}
	csrf = cookieFrom(rec, csrfCookieName)

	rec = env.get("/admin/sessions", "application/json", auth)
	expectStatus(t, rec, http.StatusOK)
	rows := decodeBody[[]model.SessionSummary](t, rec)
	if len(rows) != 1 || rows[0].SessionID != id || rows[0].FinalScore == nil {
		t.Errorf("rows = %+v", rows)
	}

	rec = env.get("/admin/sessions", "text/html", auth)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "/admin/sessions/"+id+"/report") {
		t.Error("sessions page missing report link")
	}

	rec = env.get("/admin/sessions/"+id+"/report", "", auth)
	expectStatus(t, rec, http.StatusOK)
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "alice_dev_"+id+".txt") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !strings.Contains(rec.Body.String(), answerText) {
		t.Error("report body missing answer")
	}
	expectStatus(t, env.get("/admin/sessions/DXT-none/report", "", auth), http.StatusNotFound)

	rec = env.postForm("/admin/logout", url.Values{"csrf_token": {csrf.Value}}, csrf, auth)
	expectStatus(t, rec, http.StatusSeeOther)
	expectStatus(t, env.get("/admin/sessions", "application/json", auth), http.StatusUnauthorized)
}

func TestReviewerRoleAllowed(t *testing.T) {
	mw := requireRole(model.UserRoleAdmin)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name string
		user *model.User
		want int
	}{
		{"no user", nil, http.StatusUnauthorized},
		{"wrong role", &model.User{Role: model.UserRoleReviewer}, http.StatusForbidden},
		{"allowed", &model.User{Role: model.UserRoleAdmin}, http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.user != nil {
				req = req.WithContext(model.ContextWithUser(req.Context(), tt.user))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
