package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/eaglebank/bank-application/internal/config"
	"github.com/eaglebank/bank-application/shared/antiforgery"
	"github.com/eaglebank/bank-application/shared/middleware"
	"github.com/eaglebank/bank-application/shared/models"
	"github.com/eaglebank/bank-application/web"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

var tokenPattern = regexp.MustCompile(`name="__RequestVerificationToken" value="([^"]+)"`)

type memoryPageStore struct {
	pages map[string]*models.CachedPage
}

func (s *memoryPageStore) Get(_ context.Context, key string) (*models.CachedPage, bool) {
	p, ok := s.pages[key]
	return p, ok
}

func (s *memoryPageStore) Set(_ context.Context, key string, page *models.CachedPage) {
	s.pages[key] = page
}

type mockHealth struct {
	err error
}

func (m *mockHealth) Healthy(context.Context) error { return m.err }

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	manager, err := antiforgery.NewManager(antiforgery.Options{Secret: "0123456789abcdef0123456789abcdef"}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return Deps{Logger: zap.NewNop(), Antiforgery: manager, Web: web.FS}
}

func newTestServer(t *testing.T, cfg *config.Config, deps Deps) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router, err := NewRouter(cfg, deps)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return router
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// loadForm fetches the home page and returns its request token and cookie.
func loadForm(t *testing.T, router http.Handler) (string, *http.Cookie) {
	t.Helper()
	w := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET / expected 200 got %d; body: %s", w.Code, w.Body.String())
	}
	m := tokenPattern.FindStringSubmatch(w.Body.String())
	if m == nil {
		t.Fatalf("no antiforgery field in home page: %s", w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected antiforgery cookie, got %d cookies", len(cookies))
	}
	return m[1], cookies[0]
}

func submit(router http.Handler, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return serve(router, req)
}

func TestPagesRender(t *testing.T) {
	router := newTestServer(t, config.Default(), newTestDeps(t))

	for _, path := range []string{"/", "/Home", "/Home/Index", "/Home/Privacy", "/Home/Error"} {
		w := serve(router, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("[%s] expected %d got %d; body: %s", path, http.StatusOK, w.Code, w.Body.String())
		}
		if w.Body.Len() == 0 {
			t.Errorf("[%s] expected non-empty body", path)
		}
		if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
			t.Errorf("[%s] expected html got %q", path, ct)
		}
	}
}

func TestSubmitFlow(t *testing.T) {
	router := newTestServer(t, config.Default(), newTestDeps(t))
	token, cookie := loadForm(t, router)

	tests := []struct {
		name           string
		path           string
		form           url.Values
		cookie         *http.Cookie
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "success - echoes submitted values",
			path:           "/",
			form:           url.Values{"__RequestVerificationToken": {token}, "AccountNumber": {"12345"}, "Pin": {"0000"}},
			cookie:         cookie,
			expectedStatus: http.StatusOK,
			expectedBody:   "Account : 12345 has been updated with new Pin: 0000",
		},
		{
			name:           "success - empty fields",
			path:           "/Home/Index",
			form:           url.Values{"__RequestVerificationToken": {token}, "AccountNumber": {""}, "Pin": {""}},
			cookie:         cookie,
			expectedStatus: http.StatusOK,
			expectedBody:   "Account :  has been updated with new Pin: ",
		},
		{
			name:           "rejected - no token",
			path:           "/",
			form:           url.Values{"AccountNumber": {"12345"}, "Pin": {"0000"}},
			cookie:         cookie,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "rejected - no cookie",
			path:           "/Home",
			form:           url.Values{"__RequestVerificationToken": {token}, "AccountNumber": {"12345"}, "Pin": {"0000"}},
			expectedStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := submit(router, tt.path, tt.form, tt.cookie)
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
			if tt.expectedBody != "" && w.Body.String() != tt.expectedBody {
				t.Errorf("[%s] expected body %q got %q", tt.name, tt.expectedBody, w.Body.String())
			}
			if tt.expectedStatus == http.StatusBadRequest && strings.Contains(w.Body.String(), "has been updated") {
				t.Errorf("[%s] rejected request produced the echo body", tt.name)
			}
		})
	}
}

func TestErrorPage(t *testing.T) {
	t.Run("falls back to request id", func(t *testing.T) {
		router := newTestServer(t, config.Default(), newTestDeps(t))
		req := httptest.NewRequest(http.MethodGet, "/Home/Error", nil)
		req.Header.Set(middleware.RequestIDHeader, "edge-42")
		w := serve(router, req)

		if !strings.Contains(w.Body.String(), "<code>edge-42</code>") {
			t.Errorf("expected request id in body: %s", w.Body.String())
		}
		if got := w.Header().Get("Cache-Control"); got != "no-store,no-cache" {
			t.Errorf("expected no-store,no-cache got %q", got)
		}
	})

	t.Run("uses the trace when tracing is on", func(t *testing.T) {
		exporter := tracetest.NewInMemoryExporter()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		defer func() { _ = tp.Shutdown(context.Background()) }()

		deps := newTestDeps(t)
		deps.Tracer = tp.Tracer("test")
		router := newTestServer(t, config.Default(), deps)
		w := serve(router, httptest.NewRequest(http.MethodGet, "/Home/Error", nil))

		spans := exporter.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("expected 1 span got %d", len(spans))
		}
		sc := spans[0].SpanContext
		want := "00-" + sc.TraceID().String() + "-" + sc.SpanID().String() + "-01"
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("expected activity id %s in body: %s", want, w.Body.String())
		}
		if got := w.Header().Get("Cache-Control"); got != "no-store,no-cache" {
			t.Errorf("expected no-store,no-cache got %q", got)
		}
	})
}

func TestSubmitJSONBodyWithHeaderToken(t *testing.T) {
	router := newTestServer(t, config.Default(), newTestDeps(t))
	token, cookie := loadForm(t, router)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"AccountNumber":"12345","Pin":"0000"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(antiforgery.DefaultHeaderName, token)
	req.AddCookie(cookie)
	w := serve(router, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d; body: %s", w.Code, w.Body.String())
	}
	if want := "Account :  has been updated with new Pin: "; w.Body.String() != want {
		t.Errorf("expected body %q got %q", want, w.Body.String())
	}
}

func TestHeadPages(t *testing.T) {
	router := newTestServer(t, config.Default(), newTestDeps(t))
	for _, path := range []string{"/", "/Home", "/Home/Index", "/Home/Privacy", "/Home/Error"} {
		w := serve(router, httptest.NewRequest(http.MethodHead, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("[%s] expected %d got %d", path, http.StatusOK, w.Code)
		}
	}
}

func TestCaseInsensitiveRedirect(t *testing.T) {
	router := newTestServer(t, config.Default(), newTestDeps(t))
	w := serve(router, httptest.NewRequest(http.MethodGet, "/home/privacy", nil))
	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("expected 301 got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/Home/Privacy" {
		t.Errorf("expected redirect to /Home/Privacy got %q", loc)
	}
}

func TestPrivacyOutputCache(t *testing.T) {
	deps := newTestDeps(t)
	deps.PageStore = &memoryPageStore{pages: map[string]*models.CachedPage{}}
	router := newTestServer(t, config.Default(), deps)

	first := serve(router, httptest.NewRequest(http.MethodGet, "/Home/Privacy", nil))
	second := serve(router, httptest.NewRequest(http.MethodGet, "/Home/Privacy", nil))

	if first.Header().Get("X-Cache") != "MISS" || second.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected MISS then HIT got %q then %q", first.Header().Get("X-Cache"), second.Header().Get("X-Cache"))
	}
	if first.Body.String() != second.Body.String() {
		t.Error("expected replayed body to match the rendered page")
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name           string
		redis          HealthChecker
		expectedStatus int
		contains       string
	}{
		{name: "no redis", expectedStatus: http.StatusOK, contains: `"status":"ok"`},
		{name: "redis up", redis: &mockHealth{}, expectedStatus: http.StatusOK, contains: `"redis":"up"`},
		{name: "redis down", redis: &mockHealth{err: errors.New("refused")}, expectedStatus: http.StatusServiceUnavailable, contains: `"redis":"down"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestDeps(t)
			deps.Redis = tt.redis
			router := newTestServer(t, config.Default(), deps)
			w := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != tt.expectedStatus {
				t.Errorf("[%s] expected %d got %d; body: %s", tt.name, tt.expectedStatus, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("[%s] expected %s in %s", tt.name, tt.contains, w.Body.String())
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	deps := newTestDeps(t)
	deps.Metrics = middleware.NewHTTPMetrics(reg)
	deps.Gatherer = reg
	router := newTestServer(t, config.Default(), deps)

	serve(router, httptest.NewRequest(http.MethodGet, "/Home/Privacy", nil))
	submit(router, "/", url.Values{"AccountNumber": {"1"}}, nil)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`bankapp_http_requests_total{method="GET",route="/Home/Privacy",status="200"} 1`,
		`bankapp_antiforgery_rejections_total{reason="cookie_missing"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestStaticAssets(t *testing.T) {
	router := newTestServer(t, config.Default(), newTestDeps(t))
	w := serve(router, httptest.NewRequest(http.MethodGet, "/css/site.css", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("expected no-store in dev got %q", got)
	}
}

func TestExceptionPipelineInProd(t *testing.T) {
	cfg := config.Default()
	cfg.Env = config.EnvProd
	deps := newTestDeps(t)
	deps.Antiforgery = &failingAntiforgery{Antiforgery: deps.Antiforgery}
	router := newTestServer(t, cfg, deps)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-500")
	w := serve(router, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d; body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "<code>req-500</code>") {
		t.Errorf("expected error page with request id, got %s", w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store,no-cache" {
		t.Errorf("expected no-store,no-cache got %q", got)
	}
}

func TestNewRouterRequiresAntiforgery(t *testing.T) {
	if _, err := NewRouter(config.Default(), Deps{Web: web.FS}); err == nil {
		t.Error("expected error without antiforgery manager")
	}
}

type failingAntiforgery struct {
	Antiforgery
}

func (f *failingAntiforgery) GetAndStoreTokens(http.ResponseWriter, *http.Request) (string, error) {
	return "", errors.New("key unavailable")
}
