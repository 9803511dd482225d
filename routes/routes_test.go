package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"stockcart-backend/cart"
	"stockcart-backend/database/dbtest"
	"stockcart-backend/jobs"
	"stockcart-backend/ledger"
	"stockcart-backend/middleware"
	"stockcart-backend/reservation"
	"stockcart-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
	os.Setenv("JWT_SECRET", "test-secret-for-routes")
}

func setupRouter(t *testing.T, limiter *middleware.RateLimiter) *gin.Engine {
	logger := zaptest.NewLogger(t)
	db := dbtest.Open(t)
	l := ledger.New(db, time.Second)
	carts := cart.NewStore(db)

	r := gin.New()
	SetupRoutes(r, Deps{
		DB:           db,
		Ledger:       l,
		Carts:        carts,
		Reservations: reservation.NewService(l, carts, nil, logger),
		Scheduler:    jobs.NewScheduler(jobs.NewRunLog(time.Hour), logger),
		CartLimiter:  limiter,
		Logger:       logger,
	})
	return r
}

func token(t *testing.T, role string) string {
	tok, err := utils.GenerateToken(uuid.New(), role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestHealthCheck(t *testing.T) {
	r := setupRouter(t, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestPublicProductsRoute(t *testing.T) {
	r := setupRouter(t, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	r := setupRouter(t, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAdminRouteBlocksNonAdmin(t *testing.T) {
	r := setupRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "customer"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestAdminRouteAllowsAdmin(t *testing.T) {
	r := setupRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "admin"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestCartMutationsAreRateLimited(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := setupRouter(t, middleware.NewRateLimiter(ctx, 0.001, 1))
	tok := token(t, "customer")

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/api/cart", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("expected [200 429], got %v", codes)
	}

	// Reads are not limited.
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for cart read, got %d", w.Code)
	}
}
