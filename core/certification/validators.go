package certification

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/wastewise/core"
)

var (
	stageTag  = "stage"
	stageText = "must be one of: started, applied, in_progress, approved"
)

// InitValidators registers the certification package validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(stageTag, stageValidation)
	core.RegisterCustomTranslation(validate, translator, stageTag, stageText)
}

// stageValidation checks that the field holds a known Stage.
func stageValidation(fl validator.FieldLevel) bool {
	return Stage(fl.Field().String()).IsValid()
}
