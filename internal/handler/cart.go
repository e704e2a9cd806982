package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/codec"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

// createCart mints a session id and returns its empty cart.
func (h *Handler) createCart(w http.ResponseWriter, _ *http.Request) {
	s := h.sessions.Get(uuid.NewString())
	w.Header().Set("Location", "/api/cart/"+s.ID())
	h.writeView(w, http.StatusCreated, s.View())
}

func (h *Handler) getCart(w http.ResponseWriter, _ *http.Request, s *checkout.Session) {
	h.writeView(w, http.StatusOK, s.View())
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	if err := s.Clear(); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	h.writeView(w, http.StatusOK, s.View())
}

// addItem adds one unit unless the body names a quantity.
func (h *Handler) addItem(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	var (
		productID string
		quantity  = 1
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			productID, err = d.Str()
		case "quantity":
			quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeRequestError(w, err.Error())
		return
	}
	if productID == "" {
		writeRequestError(w, "productId is required")
		return
	}

	if _, err := s.AddItem(r.Context(), productID, quantity); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	h.writeView(w, http.StatusOK, s.View())
}

// setQuantity replaces a line's quantity; zero or less removes the line.
func (h *Handler) setQuantity(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	var (
		quantity int
		seen     bool
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		seen = true
		var err error
		quantity, err = d.Int()
		return err
	})
	if err != nil {
		writeRequestError(w, err.Error())
		return
	}
	if !seen {
		writeRequestError(w, "quantity is required")
		return
	}

	if err := s.SetQuantity(r.Context(), r.PathValue("productId"), quantity); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	h.writeView(w, http.StatusOK, s.View())
}

// removeItem is idempotent: removing an absent line returns the cart as is.
func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	if _, err := s.RemoveItem(r.PathValue("productId")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	h.writeView(w, http.StatusOK, s.View())
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	var code string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		var err error
		code, err = d.Str()
		return err
	})
	if err != nil {
		writeRequestError(w, err.Error())
		return
	}

	if _, err := s.ApplyCoupon(code); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	h.writeView(w, http.StatusOK, s.View())
}

func (h *Handler) removeCoupon(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	if _, err := s.RemoveCoupon(); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	h.writeView(w, http.StatusOK, s.View())
}

// submit checks out the cart. With an Idempotency-Key a repeated request
// returns the order of the first one instead of checking out again.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request, s *checkout.Session) {
	key := r.Header.Get(HeaderIdempotencyKey)
	if len(key) > 255 {
		writeRequestError(w, "idempotency key too long")
		return
	}

	o, replayed, err := s.SubmitOnce(r.Context(), key)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
		w.Header().Set(HeaderReplayed, "true")
	}
	w.Header().Set("Location", "/api/order/"+o.ID)
	writeJSON(w, status, func(e *jx.Encoder) {
		codec.Order(e, o)
	})
}

func (h *Handler) writeView(w http.ResponseWriter, status int, v checkout.View) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(v.ID) })
			e.Field("state", func(e *jx.Encoder) { e.Str(v.State.String()) })
			e.Field("items", func(e *jx.Encoder) { codec.LineItems(e, v.Items) })
			if v.Coupon != nil {
				e.Field("coupon", func(e *jx.Encoder) { codec.Coupon(e, *v.Coupon) })
			}
			p := v.Pricing
			e.Field("subtotal", func(e *jx.Encoder) { codec.Money(e, p.Subtotal) })
			e.Field("discount", func(e *jx.Encoder) { codec.Money(e, p.Discount) })
			e.Field("shippingFee", func(e *jx.Encoder) { codec.Money(e, p.ShippingFee) })
			e.Field("freeShipping", func(e *jx.Encoder) { e.Bool(p.FreeShipping()) })
			e.Field("total", func(e *jx.Encoder) { codec.Money(e, p.Total) })
			if h.formatter != nil {
				e.Field("currency", func(e *jx.Encoder) { e.Str(h.formatter.Currency()) })
				e.Field("formattedTotal", func(e *jx.Encoder) { e.Str(h.formatter.Format(p.Total)) })
			}
		})
	})
}
