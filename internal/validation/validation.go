// Package validation wraps go-playground/validator with the tags rentpay
// request types rely on.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"rentpay/internal/domain"
)

type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("msisdn", msisdn)
	_ = v.RegisterValidation("wholeamount", wholeAmount)

	return &Validator{v: v}
}

// Struct validates s and returns an error wrapping domain.ErrValidation that
// names every offending field.
func (val *Validator) Struct(s interface{}) error {
	if err := val.v.Struct(s); err != nil {
		return fmt.Errorf("%s: %w", Describe(err), domain.ErrValidation)
	}
	return nil
}

var msisdn validator.Func = func(fl validator.FieldLevel) bool {
	_, err := domain.NormalizeMSISDN(fl.Field().String())
	return err == nil
}

// wholeAmount accepts positive amounts without a fractional part; the
// gateway only moves whole shillings.
var wholeAmount validator.Func = func(fl validator.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return d.IsPositive() && d.Equal(d.Truncate(0))
}

func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}
	return strings.Join(msgs, "; ")
}

func describeField(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "msisdn":
		return fe.Field() + " must be a valid mobile number"
	case "wholeamount":
		return fe.Field() + " must be a positive whole amount"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "numeric":
		return fe.Field() + " must be numeric"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
