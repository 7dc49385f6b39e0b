package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"tourbook/internal/types"
)

// Validator wraps go-playground/validator with the request rules of the
// payments API.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers custom tags:
//
//	currency_code  an ISO 4217 code, any case
//	provider_name  a known payment provider
//
// decimal.Decimal fields validate as float64, so gt=0 and friends apply.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("currency_code", func(fl validator.FieldLevel) bool {
		return v.Var(strings.ToUpper(fl.Field().String()), "iso4217") == nil
	})
	_ = v.RegisterValidation("provider_name", func(fl validator.FieldLevel) bool {
		switch types.ProviderName(fl.Field().String()) {
		case types.ProviderRazorpay, types.ProviderStripe:
			return true
		}
		return false
	})

	return &Validator{validate: v, logger: logger}
}

// FieldError is one failed rule, keyed by the JSON field name.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidateStruct runs the struct's validate tags. Failures are returned as a
// validation AppError listing the offending fields.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make([]FieldError, 0, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
		names = append(names, fe.Field())
	}

	code := types.ErrCodeValidationMissingField
	switch verrs[0].Tag() {
	case "required":
	case "currency_code":
		code = types.ErrCodeValidationInvalidCurrency
	case "gt":
		code = types.ErrCodeValidationInvalidAmount
	default:
		code = types.ErrCodeValidationInvalidBody
	}

	return types.NewAppErrorWithDetails(code,
		"invalid request: "+strings.Join(names, ", "), err,
		map[string]any{"fields": fields})
}
