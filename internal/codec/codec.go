// Package codec encodes and decodes checkout values as JSON with go-faster/jx.
//
// Money is written as a fixed two-decimal string. Decoding accepts either a
// string or a JSON number.
package codec

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

// Money writes d as a two-decimal string.
func Money(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

// DecodeMoney reads a decimal from a string or number.
func DecodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.Errorf("unexpected %s for money", d.Next())
	}
}

// LineItem writes a cart line with its line total.
func LineItem(e *jx.Encoder, item cart.LineItem) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Str(item.ProductID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(item.Name) })
		e.Field("unitPrice", func(e *jx.Encoder) { Money(e, item.UnitPrice) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
		e.Field("lineTotal", func(e *jx.Encoder) { Money(e, item.Total()) })
		if item.Image != "" {
			e.Field("image", func(e *jx.Encoder) { e.Str(item.Image) })
		}
	})
}

// LineItems writes items as an array.
func LineItems(e *jx.Encoder, items []cart.LineItem) {
	e.Arr(func(e *jx.Encoder) {
		for _, item := range items {
			LineItem(e, item)
		}
	})
}

// DecodeLineItem reads a line written by LineItem. lineTotal is ignored.
func DecodeLineItem(d *jx.Decoder) (cart.LineItem, error) {
	var item cart.LineItem
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			item.ProductID, err = d.Str()
		case "name":
			item.Name, err = d.Str()
		case "unitPrice":
			item.UnitPrice, err = DecodeMoney(d)
		case "quantity":
			item.Quantity, err = d.Int()
		case "image":
			item.Image, err = d.Str()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return item, err
}

// DecodeLineItems reads an array written by LineItems.
func DecodeLineItems(d *jx.Decoder) ([]cart.LineItem, error) {
	var items []cart.LineItem
	err := d.Arr(func(d *jx.Decoder) error {
		item, err := DecodeLineItem(d)
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

// MarshalLineItems returns items as a JSON array.
func MarshalLineItems(items []cart.LineItem) []byte {
	var e jx.Encoder
	LineItems(&e, items)
	return e.Bytes()
}

// UnmarshalLineItems parses a JSON array of line items.
func UnmarshalLineItems(data []byte) ([]cart.LineItem, error) {
	items, err := DecodeLineItems(jx.DecodeBytes(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode line items")
	}
	return items, nil
}

// Pricing writes the totals block.
func Pricing(e *jx.Encoder, p pricing.Result) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("subtotal", func(e *jx.Encoder) { Money(e, p.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { Money(e, p.Discount) })
		e.Field("shippingFee", func(e *jx.Encoder) { Money(e, p.ShippingFee) })
		e.Field("freeShipping", func(e *jx.Encoder) { e.Bool(p.FreeShipping()) })
		e.Field("total", func(e *jx.Encoder) { Money(e, p.Total) })
	})
}

// Coupon writes an applied coupon.
func Coupon(e *jx.Encoder, c coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		e.Field("rate", func(e *jx.Encoder) { e.Str(c.Rate.String()) })
		if c.Description != "" {
			e.Field("description", func(e *jx.Encoder) { e.Str(c.Description) })
		}
	})
}

// Order writes a confirmed order.
func Order(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("items", func(e *jx.Encoder) { LineItems(e, o.Items) })
		e.Field("subtotal", func(e *jx.Encoder) { Money(e, o.Subtotal) })
		e.Field("discount", func(e *jx.Encoder) { Money(e, o.Discount) })
		e.Field("shippingFee", func(e *jx.Encoder) { Money(e, o.ShippingFee) })
		e.Field("total", func(e *jx.Encoder) { Money(e, o.Total) })
		if o.CouponCode != "" {
			e.Field("couponCode", func(e *jx.Encoder) { e.Str(o.CouponCode) })
		}
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339Nano)) })
	})
}

// DecodeOrder reads an order written by Order.
func DecodeOrder(d *jx.Decoder) (*order.Order, error) {
	var o order.Order
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			o.ID, err = d.Str()
		case "items":
			o.Items, err = DecodeLineItems(d)
		case "subtotal":
			o.Subtotal, err = DecodeMoney(d)
		case "discount":
			o.Discount, err = DecodeMoney(d)
		case "shippingFee":
			o.ShippingFee, err = DecodeMoney(d)
		case "total":
			o.Total, err = DecodeMoney(d)
		case "couponCode":
			o.CouponCode, err = d.Str()
		case "createdAt":
			var s string
			if s, err = d.Str(); err == nil {
				o.CreatedAt, err = time.Parse(time.RFC3339Nano, s)
			}
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Product writes a catalog product. imageBase is prepended to image paths.
func Product(e *jx.Encoder, p product.Product, imageBase string) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("price", func(e *jx.Encoder) { Money(e, p.Price) })
		if p.DiscountPrice.Valid {
			e.Field("discountPrice", func(e *jx.Encoder) { Money(e, p.DiscountPrice.Decimal) })
		}
		e.Field("effectivePrice", func(e *jx.Encoder) { Money(e, p.EffectivePrice()) })
		e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
		e.Field("image", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("thumbnail", func(e *jx.Encoder) { e.Str(imageBase + p.Image.Thumbnail) })
				e.Field("mobile", func(e *jx.Encoder) { e.Str(imageBase + p.Image.Mobile) })
				e.Field("tablet", func(e *jx.Encoder) { e.Str(imageBase + p.Image.Tablet) })
				e.Field("desktop", func(e *jx.Encoder) { e.Str(imageBase + p.Image.Desktop) })
			})
		})
	})
}

// DecodeProduct reads a product as stored in seed files: money as string or
// number, discountPrice optional.
func DecodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "price":
			p.Price, err = DecodeMoney(d)
		case "discountPrice":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var v decimal.Decimal
			if v, err = DecodeMoney(d); err == nil {
				p.DiscountPrice = decimal.NewNullDecimal(v)
			}
		case "stock":
			p.Stock, err = d.Int()
		case "image":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "thumbnail":
					p.Image.Thumbnail, err = d.Str()
				case "mobile":
					p.Image.Mobile, err = d.Str()
				case "tablet":
					p.Image.Tablet, err = d.Str()
				case "desktop":
					p.Image.Desktop, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return p, err
}

// UnmarshalProducts parses a JSON array of products.
func UnmarshalProducts(data []byte) ([]product.Product, error) {
	var out []product.Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		p, err := DecodeProduct(d)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return out, nil
}
