// Package handler serves the storefront JSON API over net/http.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/money"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

const (
	// HeaderIdempotencyKey makes a checkout request replayable.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderReplayed is set on checkout responses served from an earlier
	// request with the same idempotency key.
	HeaderReplayed = "Idempotent-Replayed"

	maxBodyBytes = 64 << 10
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to product image paths.
	ImageBaseURL string
	// Formatter renders display totals. Nil omits formattedTotal.
	Formatter *money.Formatter
}

// Handler exposes the catalog, the per-session cart and checkout, and the
// order lookup.
type Handler struct {
	catalog   product.Repository
	orders    order.Repository
	sessions  *checkout.Sessions
	formatter *money.Formatter
	imageBase string
}

// New creates a Handler.
func New(cfg Config, catalog product.Repository, orders order.Repository, sessions *checkout.Sessions) *Handler {
	return &Handler{
		catalog:   catalog,
		orders:    orders,
		sessions:  sessions,
		formatter: cfg.Formatter,
		imageBase: cfg.ImageBaseURL,
	}
}

// Register mounts the API on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/product", h.listProducts)
	mux.HandleFunc("GET /api/product/{productId}", h.getProduct)

	mux.HandleFunc("POST /api/cart", h.createCart)
	mux.HandleFunc("GET /api/cart/{sessionId}", h.withSession(h.getCart))
	mux.HandleFunc("DELETE /api/cart/{sessionId}", h.withSession(h.clearCart))
	mux.HandleFunc("POST /api/cart/{sessionId}/items", h.withSession(h.addItem))
	mux.HandleFunc("PUT /api/cart/{sessionId}/items/{productId}", h.withSession(h.setQuantity))
	mux.HandleFunc("DELETE /api/cart/{sessionId}/items/{productId}", h.withSession(h.removeItem))
	mux.HandleFunc("PUT /api/cart/{sessionId}/coupon", h.withSession(h.applyCoupon))
	mux.HandleFunc("DELETE /api/cart/{sessionId}/coupon", h.withSession(h.removeCoupon))
	mux.HandleFunc("POST /api/cart/{sessionId}/checkout", h.withSession(h.submit))

	mux.HandleFunc("GET /api/order/{orderId}", h.getOrder)
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, s *checkout.Session)

// withSession resolves {sessionId}, creating the session on first use.
func (h *Handler) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("sessionId")
		if !validSessionID(id) {
			writeRequestError(w, "invalid session id")
			return
		}
		next(w, r, h.sessions.Get(id))
	}
}

// validSessionID accepts 1 to 64 characters of [A-Za-z0-9_-].
func validSessionID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		switch c := id[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// decodeBody reads a JSON object from the request body, calling field for
// every key.
func decodeBody(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(data) > maxBodyBytes {
		return errors.New("body too large")
	}
	if len(data) == 0 {
		return errors.New("empty body")
	}
	return jx.DecodeBytes(data).Obj(field)
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// errorStatus maps an error kind to its HTTP status.
func errorStatus(kind checkout.Kind) int {
	switch kind {
	case checkout.KindEmptyCart:
		return http.StatusBadRequest
	case checkout.KindProductNotFound, checkout.KindLineNotFound, checkout.KindOrderNotFound:
		return http.StatusNotFound
	case checkout.KindAlreadySubmitting, checkout.KindCheckoutPending, checkout.KindInsufficientStock:
		return http.StatusConflict
	case checkout.KindInvalidQuantity, checkout.KindInvalidCoupon, checkout.KindMissingCoupon:
		return http.StatusUnprocessableEntity
	case checkout.KindLedgerUnavailable, checkout.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the API error envelope. Internal errors are
// logged and their detail withheld.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	ce := checkout.Classify(err)
	status := errorStatus(ce.Kind)

	message := "internal error"
	if status == http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
	} else if ce.Err != nil {
		message = ce.Err.Error()
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeProblem(w, status, string(ce.Kind), message, ce.ProductID, ce.Kind.Retryable())
}

func writeRequestError(w http.ResponseWriter, message string) {
	writeProblem(w, http.StatusBadRequest, "invalid_request", message, "", false)
}

func writeProblem(w http.ResponseWriter, status int, kind, message, productID string, retryable bool) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("kind", func(e *jx.Encoder) { e.Str(kind) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
			if productID != "" {
				e.Field("productId", func(e *jx.Encoder) { e.Str(productID) })
			}
			if retryable {
				e.Field("retryable", func(e *jx.Encoder) { e.Bool(true) })
			}
		})
	})
}
