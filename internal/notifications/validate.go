package notifications

import (
	"fmt"

	"github.com/bissquit/nudge/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = NewValidator()

// NewValidator returns a validator that knows the notification_type tag.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notification_type", func(fl validator.FieldLevel) bool {
		return domain.NotificationType(fl.Field().String()).IsValid()
	}); err != nil {
		panic(fmt.Sprintf("register notification_type validation: %v", err))
	}
	return v
}

// ValidateRequest checks a request and wraps failures in ErrInvalidRequest.
func ValidateRequest(req *domain.NotificationRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}
