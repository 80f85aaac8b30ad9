package session

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/pavelanni/assessor/internal/model"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
	trans        ut.Translator
)

func validatorInstance() (*validator.Validate, ut.Translator) {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON field names so clients can map errors to inputs.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		trans, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(validate, trans)
	})
	return validate, trans
}

// normalizeInfo trims surrounding whitespace so blank fields fail "required".
func normalizeInfo(info model.PersonalInfo) model.PersonalInfo {
	info.FullName = strings.TrimSpace(info.FullName)
	info.Username = strings.TrimSpace(info.Username)
	info.DiscordID = strings.TrimSpace(info.DiscordID)
	info.Nationality = strings.TrimSpace(info.Nationality)
	info.Timezone = strings.TrimSpace(info.Timezone)
	info.Availability = strings.TrimSpace(info.Availability)
	info.Experience = strings.TrimSpace(info.Experience)
	info.Motivation = strings.TrimSpace(info.Motivation)
	info.Portfolio = strings.TrimSpace(info.Portfolio)
	return info
}

// ValidatePersonalInfo checks the applicant profile and returns a
// *ValidationError listing every failing field.
func ValidatePersonalInfo(info model.PersonalInfo) error {
	v, tr := validatorInstance()
	err := v.Struct(info)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range ve {
		out.Fields = append(out.Fields, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: fe.Translate(tr),
		})
	}
	return out
}
