package api

import (
	"regexp"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// kvpairPattern accepts environment entries of the form KEY=value with a
// conventional variable name.
var kvpairPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=.*$`)

// RegisterValidators installs the custom binding validators used by the host
// APIs. Call once at startup.
func RegisterValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("kvpair", validateKVPair)
	}
}

func validateKVPair(fl validator.FieldLevel) bool {
	return kvpairPattern.MatchString(fl.Field().String())
}
