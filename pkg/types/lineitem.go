package types

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Let numeric tags (gte, gt) apply to decimal amounts
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})

	return v
}

// OrderDraft is the client-supplied part of an order before it is priced and persisted
type OrderDraft struct {
	UserID          int64      `json:"userId" validate:"gt=0"`
	Items           []LineItem `json:"items" validate:"required,min=1,dive"`
	ShippingAddress string     `json:"shippingAddress" validate:"required"`
}

// ResolveLineItems validates the requested lines and returns a normalized snapshot.
// Item types are upper-cased; the returned slice never aliases the input.
func ResolveLineItems(items []LineItem) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrInvalidInput)
	}

	resolved := make([]LineItem, len(items))
	for i, item := range items {
		item.ItemType = ItemType(strings.ToUpper(strings.TrimSpace(string(item.ItemType))))
		if err := validate.Struct(item); err != nil {
			return nil, validationError(fmt.Sprintf("items[%d]", i), err)
		}
		// float conversion above is only a coarse check
		if item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: items[%d].unitPrice must be >= 0", ErrInvalidInput, i)
		}
		resolved[i] = item
	}
	return resolved, nil
}

// ResolveDraft validates a whole order draft and snapshots its items
func ResolveDraft(draft OrderDraft) (OrderDraft, error) {
	draft.ShippingAddress = strings.TrimSpace(draft.ShippingAddress)

	items, err := ResolveLineItems(draft.Items)
	if err != nil {
		return OrderDraft{}, err
	}
	draft.Items = items

	if err := validate.Struct(draft); err != nil {
		return OrderDraft{}, validationError("order", err)
	}
	return draft, nil
}

// validationError flattens validator output into an ErrInvalidInput naming the first violated rule
func validationError(prefix string, err error) error {
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) || len(vErrs) == 0 {
		return fmt.Errorf("%w: %s: %v", ErrInvalidInput, prefix, err)
	}

	vErr := vErrs[0]
	field := prefix + "." + vErr.Field()
	switch vErr.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	case "min":
		return fmt.Errorf("%w: %s needs at least %s entries", ErrInvalidInput, field, vErr.Param())
	case "gt":
		return fmt.Errorf("%w: %s must be > %s", ErrInvalidInput, field, vErr.Param())
	case "gte":
		return fmt.Errorf("%w: %s must be >= %s", ErrInvalidInput, field, vErr.Param())
	case "oneof":
		return fmt.Errorf("%w: %s must be one of [%s]", ErrInvalidInput, field, vErr.Param())
	default:
		return fmt.Errorf("%w: %s failed %s", ErrInvalidInput, field, vErr.Tag())
	}
}
