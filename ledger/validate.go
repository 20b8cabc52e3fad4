package ledger

import (
	"errors"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUT VALIDATION
// =============================================================================

// newValidator returns a validator that understands the fixed-point types.
// Money, Quantity, Percent and Date are validated through their string form,
// so "required" on a Date means "set" and the decimal rules below apply.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		switch x := field.Interface().(type) {
		case Money:
			return x.String()
		case Quantity:
			return x.String()
		case Percent:
			return x.String()
		case Date:
			return x.String()
		}
		return nil
	}, Money{}, Quantity{}, Percent{}, Date{})

	must(v.RegisterValidation("positive", func(fl validator.FieldLevel) bool {
		d, ok := fieldDecimal(fl)
		return ok && d.IsPositive()
	}))
	must(v.RegisterValidation("nonnegative", func(fl validator.FieldLevel) bool {
		d, ok := fieldDecimal(fl)
		return ok && !d.IsNegative()
	}))
	must(v.RegisterValidation("percent", func(fl validator.FieldLevel) bool {
		d, ok := fieldDecimal(fl)
		return ok && !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(100))
	}))
	return v
}

func fieldDecimal(fl validator.FieldLevel) (decimal.Decimal, bool) {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	return d, err == nil
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// check runs struct validation and converts failures to *ValidationError.
func check(v *validator.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Message: err.Error()}
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Namespace(), Rule: fe.Tag()})
	}
	out.Field = out.Fields[0].Field
	out.Message = out.Error()
	return out
}
