package classview

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
)

var (
	tabTag  = "tab"
	tabText = "tab must be one of: stream, classwork, people"
)

// InitValidators registers the class view validators & translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(tabTag, tabValidation)
	core.RegisterCustomTranslation(validate, translator, tabTag, tabText)
}

func tabValidation(fl validator.FieldLevel) bool {
	tab := fl.Field().String()
	for _, t := range Tabs {
		if tab == t {
			return true
		}
	}
	return false
}
