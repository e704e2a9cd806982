package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/money"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/storage/memory"
)

type testServer struct {
	mux       *http.ServeMux
	inventory *memory.Inventory
	orders    *memory.OrderRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	inv := memory.NewInventory([]product.Product{
		{
			ID: "1", Name: "Waffle with Berries", Category: "Waffle",
			Price: decimal.RequireFromString("6.50"), Stock: 10,
			Image: product.Image{Thumbnail: "/images/waffle-thumb.jpg"},
		},
		{
			ID: "2", Name: "Celebration Cake", Category: "Cake",
			Price:         decimal.RequireFromString("160.00"),
			DiscountPrice: decimal.NewNullDecimal(decimal.RequireFromString("150.00")),
			Stock:         2,
		},
	})
	orders := memory.NewOrderRepository()

	registry, err := coupon.NewRegistry(coupon.DefaultCoupons()...)
	require.NoError(t, err)
	formatter, err := money.NewFormatter("BRL", "pt-BR")
	require.NoError(t, err)

	var seq int
	sessions := checkout.NewSessions(func(id string) *checkout.Session {
		b := checkout.NewBuilder(inv, orders, checkout.BuilderConfig{
			NewID: func() string {
				seq++
				return fmt.Sprintf("order-%d", seq)
			},
			Now: func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) },
		})
		return checkout.NewSession(id, inv, registry, b)
	}, time.Hour)

	mux := http.NewServeMux()
	New(Config{ImageBaseURL: "https://cdn.example", Formatter: formatter}, inv, orders, sessions).Register(mux)
	return &testServer{mux: mux, inventory: inv, orders: orders}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

// fields decodes a JSON object into key -> string value for strings and key ->
// raw JSON for anything else.
func fields(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()

	out := make(map[string]string)
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		if d.Next() == jx.String {
			v, err := d.Str()
			out[key] = v
			return err
		}
		raw, err := d.Raw()
		out[key] = raw.String()
		return err
	})
	require.NoError(t, err, w.Body.String())
	return out
}

func arrayLen(t *testing.T, raw string) int {
	t.Helper()

	var n int
	require.NoError(t, jx.DecodeStr(raw).Arr(func(d *jx.Decoder) error {
		n++
		return d.Skip()
	}))
	return n
}

func TestProducts(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/product", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var names []string
	require.NoError(t, jx.DecodeBytes(w.Body.Bytes()).Arr(func(d *jx.Decoder) error {
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "name" {
				return d.Skip()
			}
			v, err := d.Str()
			names = append(names, v)
			return err
		})
	}))
	assert.Equal(t, []string{"Waffle with Berries", "Celebration Cake"}, names)

	w = s.do(t, http.MethodGet, "/api/product/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	p := fields(t, w)
	assert.Equal(t, "150.00", p["effectivePrice"])
	assert.Contains(t, p["image"], "https://cdn.example")

	w = s.do(t, http.MethodGet, "/api/product/99", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	e := fields(t, w)
	assert.Equal(t, "product_not_found", e["kind"])
	assert.Equal(t, "99", e["productId"])
	assert.Equal(t, "404", e["code"])
}

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	const cart = "/api/cart/shopper-1"

	w := s.do(t, http.MethodPost, cart+"/items", `{"productId":"2","quantity":2}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v := fields(t, w)
	assert.Equal(t, "300.00", v["subtotal"])
	assert.Equal(t, "0.00", v["shippingFee"])
	assert.Equal(t, "true", v["freeShipping"])

	w = s.do(t, http.MethodPut, cart+"/coupon", `{"code":" welcome10 "}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v = fields(t, w)
	assert.Equal(t, "30.00", v["discount"])
	assert.Equal(t, "270.00", v["total"])
	assert.Equal(t, "BRL", v["currency"])
	assert.Contains(t, v["formattedTotal"], "270")
	assert.Contains(t, v["coupon"], `"WELCOME10"`)

	w = s.do(t, http.MethodPost, cart+"/checkout", "", HeaderIdempotencyKey, "click-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	o := fields(t, w)
	assert.Equal(t, "order-1", o["id"])
	assert.Equal(t, "270.00", o["total"])
	assert.Equal(t, "WELCOME10", o["couponCode"])
	assert.Equal(t, "/api/order/order-1", w.Header().Get("Location"))

	remaining, ok := s.inventory.Remaining("2")
	require.True(t, ok)
	assert.Zero(t, remaining)

	// Replaying the same key returns the same order without another checkout.
	w = s.do(t, http.MethodPost, cart+"/checkout", "", HeaderIdempotencyKey, "click-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "true", w.Header().Get(HeaderReplayed))
	assert.Equal(t, "order-1", fields(t, w)["id"])
	assert.Equal(t, 1, s.orders.Len())

	w = s.do(t, http.MethodGet, cart, "")
	require.Equal(t, http.StatusOK, w.Code)
	v = fields(t, w)
	assert.Zero(t, arrayLen(t, v["items"]))
	assert.NotContains(t, v, "coupon")
	assert.Equal(t, "confirmed", v["state"])

	w = s.do(t, http.MethodGet, "/api/order/order-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "300.00", fields(t, w)["subtotal"])
}

func TestCartEdits(t *testing.T) {
	s := newTestServer(t)
	const cart = "/api/cart/shopper-2"

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, cart+"/items", `{"productId":"1","quantity":1}`).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, cart+"/items", `{"productId":"1","quantity":2}`).Code)

	w := s.do(t, http.MethodPut, cart+"/items/1", `{"quantity":4}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v := fields(t, w)
	assert.Equal(t, "26.00", v["subtotal"])
	assert.Equal(t, "29.90", v["shippingFee"])
	assert.Equal(t, "55.90", v["total"])

	w = s.do(t, http.MethodPut, cart+"/items/1", `{"quantity":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, arrayLen(t, fields(t, w)["items"]))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, cart+"/items", `{"productId":"1","quantity":1}`).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, cart+"/items/1", "").Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, cart+"/items/1", "").Code, "removal is idempotent")

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, cart+"/items", `{"productId":"1","quantity":1}`).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, cart+"/coupon", `{"code":"FREESHIP"}`).Code)
	w = s.do(t, http.MethodDelete, cart, "")
	require.Equal(t, http.StatusOK, w.Code)
	v = fields(t, w)
	assert.Zero(t, arrayLen(t, v["items"]))
	assert.Contains(t, v["coupon"], "FREESHIP", "clearing the cart keeps the coupon")
	assert.Equal(t, "0.00", v["subtotal"])
	assert.Equal(t, "29.90", v["total"], "an empty cart is below the free-shipping threshold")

	w = s.do(t, http.MethodDelete, cart+"/coupon", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, fields(t, w), "coupon")
}

func TestAddItemQuantity(t *testing.T) {
	s := newTestServer(t)
	const cart = "/api/cart/shopper-3"

	w := s.do(t, http.MethodPost, cart+"/items", `{"productId":"1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "6.50", fields(t, w)["subtotal"], "quantity defaults to one")

	w = s.do(t, http.MethodPost, cart+"/items", `{"productId":"1","quantity":9223372036854775807}`)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, "insufficient_stock", fields(t, w)["kind"])

	w = s.do(t, http.MethodGet, cart, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "6.50", fields(t, w)["subtotal"])
}

func TestCreateCart(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/cart", "")
	require.Equal(t, http.StatusCreated, w.Code)
	v := fields(t, w)
	assert.Len(t, v["id"], 36)
	assert.Equal(t, "/api/cart/"+v["id"], w.Header().Get("Location"))
	assert.Equal(t, "idle", v["state"])
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(s *testServer)
		method    string
		path      string
		body      string
		status    int
		kind      string
		productID string
	}{
		{
			name:   "zero quantity",
			method: http.MethodPost, path: "/api/cart/s/items", body: `{"productId":"1","quantity":0}`,
			status: http.StatusUnprocessableEntity, kind: "invalid_quantity", productID: "1",
		},
		{
			name:   "unknown product",
			method: http.MethodPost, path: "/api/cart/s/items", body: `{"productId":"77","quantity":1}`,
			status: http.StatusNotFound, kind: "product_not_found", productID: "77",
		},
		{
			name:   "more than stock",
			method: http.MethodPost, path: "/api/cart/s/items", body: `{"productId":"2","quantity":3}`,
			status: http.StatusConflict, kind: "insufficient_stock", productID: "2",
		},
		{
			name:   "malformed body",
			method: http.MethodPost, path: "/api/cart/s/items", body: `{"productId":`,
			status: http.StatusBadRequest, kind: "invalid_request",
		},
		{
			name:   "missing product id",
			method: http.MethodPost, path: "/api/cart/s/items", body: `{"quantity":1}`,
			status: http.StatusBadRequest, kind: "invalid_request",
		},
		{
			name:   "invalid session id",
			method: http.MethodGet, path: "/api/cart/bad.id",
			status: http.StatusBadRequest, kind: "invalid_request",
		},
		{
			name:   "unknown coupon",
			method: http.MethodPut, path: "/api/cart/s/coupon", body: `{"code":"NOPE"}`,
			status: http.StatusUnprocessableEntity, kind: "invalid_coupon",
		},
		{
			name:   "blank coupon",
			method: http.MethodPut, path: "/api/cart/s/coupon", body: `{"code":"  "}`,
			status: http.StatusUnprocessableEntity, kind: "missing_coupon",
		},
		{
			name:   "set quantity on absent line",
			method: http.MethodPut, path: "/api/cart/s/items/1", body: `{"quantity":2}`,
			status: http.StatusNotFound, kind: "line_not_found", productID: "1",
		},
		{
			name:   "set quantity without quantity",
			method: http.MethodPut, path: "/api/cart/s/items/1", body: `{}`,
			status: http.StatusBadRequest, kind: "invalid_request",
		},
		{
			name:   "checkout empty cart",
			method: http.MethodPost, path: "/api/cart/s/checkout",
			status: http.StatusBadRequest, kind: "empty_cart",
		},
		{
			name:   "unknown order",
			method: http.MethodGet, path: "/api/order/missing",
			status: http.StatusNotFound, kind: "order_not_found",
		},
		{
			name: "stock sold to another session",
			setup: func(s *testServer) {
				require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/cart/s/items", `{"productId":"2","quantity":2}`).Code)
				require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/cart/other/items", `{"productId":"2","quantity":1}`).Code)
				require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/cart/other/checkout", "").Code)
			},
			method: http.MethodPost, path: "/api/cart/s/checkout",
			status: http.StatusConflict, kind: "insufficient_stock", productID: "2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			if tt.setup != nil {
				tt.setup(s)
			}

			w := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			e := fields(t, w)
			assert.Equal(t, tt.kind, e["kind"])
			assert.Equal(t, tt.productID, e["productId"])
			assert.NotEmpty(t, e["message"])
		})
	}
}

func TestErrorStatus(t *testing.T) {
	tests := map[checkout.Kind]int{
		checkout.KindEmptyCart:         http.StatusBadRequest,
		checkout.KindOrderNotFound:     http.StatusNotFound,
		checkout.KindAlreadySubmitting: http.StatusConflict,
		checkout.KindCheckoutPending:   http.StatusConflict,
		checkout.KindMissingCoupon:     http.StatusUnprocessableEntity,
		checkout.KindLedgerUnavailable: http.StatusServiceUnavailable,
		checkout.KindStoreUnavailable:  http.StatusServiceUnavailable,
		checkout.KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, errorStatus(kind), kind)
	}
}

func TestValidSessionID(t *testing.T) {
	assert.True(t, validSessionID("6f1c2a9e-0b7d-4c1e-9a55-3d2f8e7b1c00"))
	assert.True(t, validSessionID("shopper_1"))
	assert.False(t, validSessionID(""))
	assert.False(t, validSessionID("a/b"))
	assert.False(t, validSessionID(strings.Repeat("x", 65)))
}
