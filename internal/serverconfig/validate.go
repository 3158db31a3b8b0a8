package serverconfig

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"garrison/internal/domain"

	"github.com/go-playground/validator/v10"
)

const minRconPasswordLength = 3

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("label"); name != "" {
			return name
		}
		return fld.Name
	})
	v.RegisterStructValidation(validateRcon, domain.RconConfig{})
	v.RegisterStructValidation(validatePorts, domain.ServerConfig{})
	return v
}

func validateRcon(sl validator.StructLevel) {
	r := sl.Current().Interface().(domain.RconConfig)
	if !r.Enabled {
		return
	}
	switch {
	case r.Password == "":
		sl.ReportError(r.Password, "rconPassword", "Password", "required", "")
	case strings.IndexFunc(r.Password, unicode.IsSpace) >= 0:
		sl.ReportError(r.Password, "rconPassword", "Password", "nowhitespace", "")
	case utf8.RuneCountInString(r.Password) < minRconPasswordLength:
		sl.ReportError(r.Password, "rconPassword", "Password", "min", fmt.Sprint(minRconPasswordLength))
	}
}

func validatePorts(sl validator.StructLevel) {
	c := sl.Current().Interface().(domain.ServerConfig)
	if !c.RCON.Enabled {
		return
	}
	if c.RCON.Port == c.BindPort {
		sl.ReportError(c.RCON.Port, "rconPort", "Port", "differs", "bindPort")
	} else if c.RCON.Port == c.A2S.Port {
		sl.ReportError(c.RCON.Port, "rconPort", "Port", "differs", "a2sPort")
	}
}

// Validate checks every field and reports all violations at once.
func Validate(cfg domain.ServerConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("error validating config: %w", err)
	}

	fields := make([]domain.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, domain.FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return domain.ValidationFields("invalid server configuration", fields)
}

func message(fe validator.FieldError) string {
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return "is required"
	case "nowhitespace":
		return "must not contain whitespace"
	case "min":
		if isString {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "ip":
		return "must be a valid IP address"
	case "ip|hostname":
		return "must be an IP address or hostname"
	case "differs":
		return fmt.Sprintf("must differ from %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}
