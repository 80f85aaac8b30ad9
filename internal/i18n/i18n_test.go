package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "Scripter Assessment" {
		t.Errorf("T(AppTitle) = %q, want 'Scripter Assessment'", got)
	}
	if got := T(ctx, "NoSkipCredits"); got != "You have no skips left." {
		t.Errorf("T(NoSkipCredits) = %q", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	if got := T(ctx, "AppTitle"); got != "Оценка скриптера" {
		t.Errorf("T(AppTitle) = %q, want 'Оценка скриптера'", got)
	}
	if got := T(ctx, "SessionClosed"); got != "Задание уже отправлено." {
		t.Errorf("T(SessionClosed) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "SkipsRemaining", 1); got != "1 skip remaining." {
		t.Errorf("Tp(SkipsRemaining, 1) = %q", got)
	}
	if got := Tp(ctx, "SkipsRemaining", 2); got != "2 skips remaining." {
		t.Errorf("Tp(SkipsRemaining, 2) = %q", got)
	}

	ru := initLang(t, "ru")
	tests := []struct {
		n    int
		want string
	}{
		{1, "В задании 1 вопрос."},
		{3, "В задании 3 вопроса."},
		{18, "В задании 18 вопросов."},
	}
	for _, tt := range tests {
		if got := Tp(ru, "QuestionsAvailable", tt.n); got != tt.want {
			t.Errorf("Tp(QuestionsAvailable, %d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "SessionN", map[string]any{"ID": "DXT-abc"})
	if got != "Session DXT-abc" {
		t.Errorf("Td(SessionN) = %q, want 'Session DXT-abc'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestLanguages(t *testing.T) {
	initLang(t, "en")
	langs := Languages()
	if !slices.Contains(langs, "en") || !slices.Contains(langs, "ru") {
		t.Errorf("Languages() = %v", langs)
	}
}

func TestMiddleware(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(T(r.Context(), "Login")))
	}))

	tests := []struct {
		name   string
		query  string
		accept string
		want   string
	}{
		{"default", "", "", "Sign in"},
		{"header", "", "ru-RU,ru;q=0.9,en;q=0.5", "Войти"},
		{"query wins", "?lang=en", "ru", "Sign in"},
		{"unsupported falls back", "", "de-DE", "Sign in"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}
