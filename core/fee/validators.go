package fee

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
)

var (
	statusTag  = "feestatus"
	statusText = fmt.Sprintf("status must be one of: %s", strings.Join(allStatuses, ", "))
)

func init() {
	// register validators
	_ = core.Validate.RegisterValidation(statusTag, statusValidation)
	core.RegisterCustomTranslation(statusTag, statusText)
}

func statusValidation(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	for _, s := range allStatuses {
		if s == val {
			return true
		}
	}
	return false
}
