package validation

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"parking-sticker/internal/models"
)

// NewStructValidator returns a validator that reports JSON field names and
// knows the domain tags used on the models.
func NewStructValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("icnumber", func(fl validator.FieldLevel) bool {
		_, err := models.NormalizeIC(fl.Field().String())
		return err == nil
	})
	return v
}

// FormatStructErrors flattens validator errors into "field: reason" pairs.
func FormatStructErrors(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s: is required", field))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s: invalid email format", field))
		case "icnumber":
			msgs = append(msgs, fmt.Sprintf("%s: must be a 12-digit IC number", field))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s: must be at least %s characters", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s: must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: is invalid", field))
		}
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}
