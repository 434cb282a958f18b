package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	// Validate is the global validator instance
	Validate *validator.Validate

	phoneRegex    = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`) // E.164 format
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)         // ISO 4217
)

func init() {
	Validate = validator.New()
	registerCustom(Validate)

	// Request structs use the same tags through gin's ShouldBindJSON.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		registerCustom(v)
	}
}

func registerCustom(v *validator.Validate) {
	_ = v.RegisterValidation("phone", validatePhone)
	_ = v.RegisterValidation("currency", validateCurrency)
	_ = v.RegisterValidation("stay_months", validateStayMonths)
	_ = v.RegisterValidation("recipient_type", validateRecipientType)
	_ = v.RegisterValidation("payout_method", validatePayoutMethod)
	_ = v.RegisterValidation("engagement_event", validateEngagementEvent)
}

// ValidateStruct validates a struct and returns a readable error on failure
func ValidateStruct(s interface{}) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s failed %s validation", fieldErr.Field(), fieldErr.Tag()))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(messages, "; "))
}

// validatePhone checks if a phone number is in E.164 format
func validatePhone(fl validator.FieldLevel) bool {
	return phoneRegex.MatchString(fl.Field().String())
}

// validateCurrency checks for a three-letter ISO 4217 code
func validateCurrency(fl validator.FieldLevel) bool {
	return currencyRegex.MatchString(fl.Field().String())
}

// validateStayMonths enforces the 1..24 month booking range
func validateStayMonths(fl validator.FieldLevel) bool {
	months := fl.Field().Int()
	return months >= 1 && months <= 24
}

func validateRecipientType(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "referrer", "referee":
		return true
	}
	return false
}

func validatePayoutMethod(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "bank_transfer", "upi", "wallet":
		return true
	}
	return false
}

func validateEngagementEvent(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "share", "click", "registration", "booking":
		return true
	}
	return false
}
