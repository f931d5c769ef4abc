//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/beanhouse/internal/domain/discount"
	"github.com/xenking/beanhouse/internal/domain/loyalty"
	"github.com/xenking/beanhouse/internal/repository"
)

const testChannel = "beanhouse:test:orders"

var (
	baseURL    string
	httpClient *http.Client
	subscriber *redis.Client
)

var (
	orderIDPattern     = regexp.MustCompile(`^ORD-\d{4}-\d{4,}$`)
	displayCodePattern = regexp.MustCompile(`^[A-Z0-9]{4}$`)
)

// Response types are defined locally to keep tests black-box.

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type orderItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
}

type orderRequest struct {
	Items         []orderItem `json:"items"`
	CustomerEmail string      `json:"customerEmail,omitempty"`
	CustomerName  string      `json:"customerName,omitempty"`
	PaymentMethod string      `json:"paymentMethod,omitempty"`
	DiscountCode  string      `json:"discountCode,omitempty"`
	PointsToUse   int64       `json:"pointsToUse,omitempty"`
}

type orderResponse struct {
	ID            string  `json:"id"`
	DisplayCode   string  `json:"displayCode"`
	Subtotal      int64   `json:"subtotal"`
	ShippingFee   int64   `json:"shippingFee"`
	Discount      int64   `json:"discount"`
	Total         int64   `json:"total"`
	DiscountCode  *string `json:"discountCode"`
	PointsUsed    int64   `json:"pointsUsed"`
	PointsEarned  int64   `json:"pointsEarned"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"paymentStatus"`
}

type codeCheckResponse struct {
	Valid          bool   `json:"valid"`
	DiscountAmount int64  `json:"discountAmount"`
	Message        string `json:"message"`
}

type accountResponse struct {
	Email         string `json:"email"`
	CurrentPoints int64  `json:"currentPoints"`
	TotalEarned   int64  `json:"totalEarned"`
	History       []struct {
		OrderID string `json:"orderId"`
		Type    string `json:"type"`
		Points  int64  `json:"points"`
	} `json:"history"`
}

type notification struct {
	Type        string `json:"type"`
	OrderID     string `json:"orderId"`
	DisplayCode string `json:"displayCode"`
}

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func startContainer(ctx context.Context, req testcontainers.ContainerRequest) testcontainers.Container {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		log.Fatalf("start %s: %v", req.Image, err)
	}
	return c
}

func endpoint(ctx context.Context, c testcontainers.Container, port string) string {
	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}
	return host + ":" + mapped.Port()
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "bean",
			"POSTGRES_PASSWORD": "bean",
			"POSTGRES_DB":       "beanhouse",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	})
	defer func() { _ = testcontainers.TerminateContainer(pg) }()

	rc := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
	})
	defer func() { _ = testcontainers.TerminateContainer(rc) }()

	redisAddr := endpoint(ctx, rc, "6379/tcp")
	cfg := &Config{
		DatabaseURL: fmt.Sprintf("postgres://bean:bean@%s/beanhouse?sslmode=disable", endpoint(ctx, pg, "5432/tcp")),
		Redis:       RedisConfig{URL: "redis://" + redisAddr, Channel: testChannel},
		Pricing:     PricingConfig{FreeShippingThreshold: 300000, FlatShippingFee: 30000},
		Loyalty:     LoyaltyConfig{EarnUnit: 10000, PointValue: 1000},
		Notify:      NotifyConfig{Timeout: 5 * time.Second},
		RateLimit:   RateLimitConfig{Max: 1000, Window: time.Minute},
		CORS:        CORSConfig{Origins: []string{"*"}, MaxAge: 600},
	}

	srv, err := New(ctx, zap.NewNop(), tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), cfg)
	if err != nil {
		log.Fatalf("new server: %v", err)
	}
	defer srv.Close()

	if err := seed(ctx, srv); err != nil {
		log.Fatalf("seed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	baseURL = ts.URL
	httpClient = &http.Client{Timeout: 10 * time.Second}
	subscriber = redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() { _ = subscriber.Close() }()

	return m.Run()
}

func seed(ctx context.Context, srv *Server) error {
	codes := repository.NewDiscountRepository(srv.pool)
	for _, c := range []discount.Code{
		{Code: "SAVE1", Type: discount.TypePercent, Percent: decimal.NewNullDecimal(decimal.NewFromInt(10)), MaxUses: 1, IsActive: true},
		{Code: "FLAT5", Type: discount.TypeAmount, Amount: decimal.NewFromInt(50000), MaxUses: 100, IsActive: true},
	} {
		if err := codes.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return repository.NewCustomerRepository(srv.pool).UpsertCustomer(ctx, loyalty.Account{
		CustomerID:    "cus-0001",
		Email:         "ann@example.com",
		CurrentPoints: 50,
		TotalEarned:   50,
	}, "Ann")
}

// HTTP helpers.

func do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, rd)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode)
	}
}

func cart() []orderItem {
	return []orderItem{{ProductID: "espresso-blend", Name: "Espresso Blend", Price: 100000, Quantity: 2}}
}

// Tests.

func TestProbes(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		resp := do(t, http.MethodGet, path, nil)
		expectStatus(t, resp, http.StatusOK)
		if body := decodeJSON[healthResponse](t, resp); body.Status != "ok" {
			t.Fatalf("%s: expected status ok, got %q", path, body.Status)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodOptions, baseURL+"/api/orders", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Origin", "http://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Error("Access-Control-Allow-Origin header not present")
	}
	if resp.Header.Get("Access-Control-Allow-Methods") == "" {
		t.Error("Access-Control-Allow-Methods header not present")
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, baseURL+"/livez", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Origin", "http://shop.example.com")
	req.Header.Set("X-Request-ID", "custom-request-id-12345")

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Error("Access-Control-Allow-Origin header not present")
	}
	if got := resp.Header.Get("X-Request-ID"); got != "custom-request-id-12345" {
		t.Errorf("X-Request-ID: got %q", got)
	}
	if resp.Header.Get("X-RateLimit-Limit") == "" {
		t.Error("X-RateLimit-Limit header not present")
	}
}

func TestCheckoutLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sub := subscriber.Subscribe(ctx, testChannel)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var created orderResponse
	t.Run("create with code and points", func(t *testing.T) {
		resp := do(t, http.MethodPost, "/api/orders", orderRequest{
			Items:         cart(),
			CustomerEmail: "Ann@Example.com",
			CustomerName:  "Ann",
			PaymentMethod: "cod",
			DiscountCode:  "save1",
			PointsToUse:   20,
		})
		expectStatus(t, resp, http.StatusCreated)
		created = decodeJSON[orderResponse](t, resp)

		if !orderIDPattern.MatchString(created.ID) {
			t.Errorf("id %q does not match %s", created.ID, orderIDPattern)
		}
		if !displayCodePattern.MatchString(created.DisplayCode) {
			t.Errorf("display code %q does not match %s", created.DisplayCode, displayCodePattern)
		}
		// 200000 + 30000 shipping, 10% code = 23000, 20 points = 20000.
		if created.Total != 187000 || created.Discount != 43000 {
			t.Errorf("total %d discount %d, want 187000 and 43000", created.Total, created.Discount)
		}
		if created.DiscountCode == nil || *created.DiscountCode != "SAVE1" {
			t.Errorf("discount code: got %v", created.DiscountCode)
		}
		if created.PointsUsed != 20 || created.Status != "pending" || created.PaymentStatus != "pending" {
			t.Errorf("unexpected order state: %+v", created)
		}
	})

	t.Run("confirmation published", func(t *testing.T) {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		var n notification
		if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
			t.Fatalf("decode notification: %v", err)
		}
		if n.Type != "order.created" || n.OrderID != created.ID || n.DisplayCode != created.DisplayCode {
			t.Errorf("unexpected notification: %+v", n)
		}
	})

	t.Run("code exhausted", func(t *testing.T) {
		resp := do(t, http.MethodPost, "/api/discount-codes/validate", map[string]any{
			"code": "SAVE1", "subtotal": 200000, "shippingFee": 30000,
		})
		expectStatus(t, resp, http.StatusOK)
		if check := decodeJSON[codeCheckResponse](t, resp); check.Valid || check.DiscountAmount != 0 {
			t.Errorf("expected invalid check, got %+v", check)
		}

		resp = do(t, http.MethodPost, "/api/orders", orderRequest{Items: cart(), DiscountCode: "SAVE1"})
		expectStatus(t, resp, http.StatusConflict)
		if body := decodeJSON[errorResponse](t, resp); body.Code != http.StatusConflict {
			t.Errorf("error body code: got %d", body.Code)
		}
	})

	t.Run("lookup by display code", func(t *testing.T) {
		resp := do(t, http.MethodGet, "/api/orders/display/"+strings.ToLower(created.DisplayCode), nil)
		expectStatus(t, resp, http.StatusOK)
		if got := decodeJSON[orderResponse](t, resp); got.ID != created.ID {
			t.Errorf("id: got %q, want %q", got.ID, created.ID)
		}
	})

	t.Run("delivery credits points once", func(t *testing.T) {
		for range 2 {
			resp := do(t, http.MethodPatch, "/api/orders/"+created.ID+"/status", map[string]any{"status": "delivered"})
			expectStatus(t, resp, http.StatusOK)
			if got := decodeJSON[orderResponse](t, resp); got.PointsEarned != 18 {
				t.Errorf("pointsEarned: got %d, want 18", got.PointsEarned)
			}
		}

		resp := do(t, http.MethodGet, "/api/loyalty/ann@example.com", nil)
		expectStatus(t, resp, http.StatusOK)
		acc := decodeJSON[accountResponse](t, resp)
		// 50 opening - 20 redeemed + 18 earned.
		if acc.CurrentPoints != 48 || acc.TotalEarned != 68 {
			t.Errorf("balance %d earned %d, want 48 and 68", acc.CurrentPoints, acc.TotalEarned)
		}
		if len(acc.History) != 2 {
			t.Errorf("history: got %d entries, want 2", len(acc.History))
		}
	})
}

func TestCheckoutErrors(t *testing.T) {
	tests := []struct {
		name string
		req  orderRequest
		want int
	}{
		{"empty cart", orderRequest{}, http.StatusBadRequest},
		{"malformed code", orderRequest{Items: cart(), DiscountCode: "NOPE"}, http.StatusBadRequest},
		{"unknown code", orderRequest{Items: cart(), DiscountCode: "NOPE1"}, http.StatusNotFound},
		{"points without email", orderRequest{Items: cart(), PointsToUse: 5}, http.StatusBadRequest},
		{"points for unknown customer", orderRequest{Items: cart(), CustomerEmail: "ghost@example.com", PointsToUse: 5}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, "/api/orders", tt.req)
			expectStatus(t, resp, tt.want)
			if body := decodeJSON[errorResponse](t, resp); body.Message == "" {
				t.Error("expected an error message")
			}
		})
	}

	resp := do(t, http.MethodGet, "/api/orders/ORD-1999-0001", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}
