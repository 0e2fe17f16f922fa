package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/shopspring/decimal"
	"github.com/unrolled/secure"

	"github.com/Alexstones/Punto-de-Venta-POS/internal/cache"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/checkout"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/domain"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/observability"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/service"
	"github.com/Alexstones/Punto-de-Venta-POS/internal/store"
)

const (
	maxBodyBytes        = 1 << 20
	loginAttemptsPerMin = 5
)

type Options struct {
	AllowedOrigin      string
	RateLimitPerMinute int
	Logger             *slog.Logger
	Metrics            *observability.Metrics
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	logger        *slog.Logger
	metrics       *observability.Metrics
	secure        *secure.Secure
	handler       http.Handler
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = 120
	}

	a := &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		secure: secure.New(secure.Options{
			FrameDeny:             true,
			ContentTypeNosniff:    true,
			BrowserXssFilter:      true,
			ReferrerPolicy:        "strict-origin-when-cross-origin",
			ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		}),
	}
	a.handler = a.routes(opts.RateLimitPerMinute)
	return a
}

func (a *API) Handler() http.Handler {
	return a.handler
}

func (a *API) routes(perMinute int) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		a.securityHeaders,
		a.cors,
		limitBody,
		a.logRequests,
		a.metrics.Middleware,
		httprate.Limit(perMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(tooManyRequests("rate limit exceeded")),
		),
	)

	loginLimiter := httprate.Limit(loginAttemptsPerMin, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests("too many login attempts")),
	)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", a.metrics.Handler())
	r.With(loginLimiter).Post("/api/v1/auth/login", a.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth("cashier", "admin"))
		r.Post("/api/v1/scan", a.handleScan)
		r.Post("/pos/checkout", a.handleCheckout)
		r.Get("/ticket/{id}", a.handleTicket)
		r.Get("/api/v1/products", a.handleListProducts)
		r.Get("/api/v1/products/barcode/{barcode}", a.handleGetProduct)
		r.Get("/api/v1/customers", a.handleCustomers)
		r.Get("/api/v1/dashboard", a.handleDashboard)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth("admin"))
		r.Put("/api/v1/products/barcode/{barcode}", a.handlePutProduct)
		r.Delete("/api/v1/products/barcode/{barcode}", a.handleDeleteProduct)
		r.Get("/api/v1/reports", a.handleReport)
		r.Get("/api/v1/users/cashiers", a.handleListCashiers)
		r.Post("/api/v1/users/cashiers", a.handleCreateCashier)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})
	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type scanRequest struct {
	Code string `json:"code"`
	Mode string `json:"mode"`
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.Scan(r.Context(), req.Code, req.Mode)
	switch {
	case errors.Is(err, service.ErrEmptyCode), errors.Is(err, service.ErrInvalidMode):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, errors.New("product not found"))
	case err != nil:
		a.fail(w, r, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid form"))
		return
	}
	form := checkout.Form{
		Items:      r.PostFormValue("items"),
		Discount:   r.PostFormValue("discount"),
		TaxRate:    r.PostFormValue("tax_rate"),
		PaidCash:   r.PostFormValue("paid_cash"),
		PaidCard:   r.PostFormValue("paid_card"),
		CustomerID: r.PostFormValue("customer_id"),
	}

	saleID, err := a.service.Checkout(r.Context(), form, r.PostFormValue("idempotency_key"))
	var validationErr *checkout.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": validationErr.Message,
			"kind":  validationKind(validationErr),
			"form":  form,
		})
	case errors.Is(err, cache.ErrInFlight):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrCommitRejected):
		a.logger.WarnContext(r.Context(), "sale rejected", slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "form": form})
	case err != nil:
		a.fail(w, r, http.StatusBadGateway, err)
	default:
		http.Redirect(w, r, "/ticket/"+url.PathEscape(saleID), http.StatusSeeOther)
	}
}

func validationKind(err *checkout.ValidationError) string {
	if errors.Is(err, checkout.ErrInvalidValue) {
		return "invalid_value"
	}
	return "malformed_input"
}

func (a *API) handleTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := a.service.Ticket(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, errors.New("sale not found"))
	case err != nil:
		a.fail(w, r, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, ticket)
	}
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), len(products), 500)
	if limit < len(products) {
		products = products[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProductByBarcode(r.Context(), chi.URLParam(r, "barcode"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, errors.New("product not found"))
	case err != nil:
		a.fail(w, r, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	}
}

type productRequest struct {
	Name  string           `json:"name"`
	Price *decimal.Decimal `json:"price"`
}

func (a *API) handlePutProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.UpsertProduct(r.Context(), domain.ProductUpsert{
		Barcode: chi.URLParam(r, "barcode"),
		Name:    req.Name,
		Price:   req.Price,
	})
	switch {
	case errors.Is(err, service.ErrAdminRequired):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, store.ErrInvalidProduct):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		a.fail(w, r, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"product": product})
	}
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	err := a.service.DeleteProduct(r.Context(), chi.URLParam(r, "barcode"))
	switch {
	case errors.Is(err, service.ErrAdminRequired):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, errors.New("product not found"))
	case errors.Is(err, store.ErrInvalidProduct):
		writeError(w, http.StatusConflict, errors.New("product is referenced by sales"))
	case err != nil:
		a.fail(w, r, http.StatusInternalServerError, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.SearchCustomers(r.Context(), r.URL.Query().Get("q")))
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.service.BuildDashboard(r.Context(), time.Now()))
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	writeJSON(w, http.StatusOK, a.service.BuildReport(r.Context(), query.Get("from"), query.Get("to"), time.Now()))
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.secure.Process(w, r); err != nil {
			a.logger.WarnContext(r.Context(), "secure headers blocked request", slog.Any("err", err))
			writeError(w, http.StatusBadRequest, errors.New("request blocked"))
			return
		}
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.InfoContext(r.Context(), "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(startedAt)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	a.logger.ErrorContext(r.Context(), "request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Any("err", err),
	)
	writeError(w, status, err)
}

func tooManyRequests(msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusTooManyRequests, errors.New(msg))
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the cause of 5xx responses; callers log it first.
func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
