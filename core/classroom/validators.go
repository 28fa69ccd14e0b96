package classroom

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
)

var (
	classRoleTag  = "classrole"
	classRoleText = "role must be one of: teacher, student"
)

// InitValidators registers the classroom validators & translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(classRoleTag, classRoleValidation)
	core.RegisterCustomTranslation(validate, translator, classRoleTag, classRoleText)
}

func classRoleValidation(fl validator.FieldLevel) bool {
	role := fl.Field().String()
	return role == RoleTeacher || role == RoleStudent
}
