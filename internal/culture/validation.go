package culture

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	fieldValidator := validator.New(validator.WithRequiredStructEnabled())
	fieldValidator.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return fieldValidator
}

// validateSubmission returns the list of unacceptable fields, empty when the
// submission may be written. The submission must already be normalized.
// Thaw events must carry a cryo vial position; every other event must link an
// existing thaw id.
func (s *Service) validateSubmission(ctx context.Context, submission Submission) ([]string, error) {
	fields := make([]string, 0, 4)

	if err := validate.Struct(submission); err != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(err, &fieldErrors) {
			return nil, err
		}
		for _, fieldError := range fieldErrors {
			fields = append(fields, fieldError.Field())
		}
	}

	if submission.Date != "" {
		if _, err := NewEventDate(submission.Date.String()); err != nil {
			fields = append(fields, "date")
		}
	}
	if submission.NextActionDate != nil {
		if _, err := NewEventDate(submission.NextActionDate.String()); err != nil {
			fields = append(fields, "next_action_date")
		}
	}

	switch {
	case submission.EventType == "":
	case isThawEvent(submission.EventType):
		if submission.CryoVialPosition == "" {
			fields = append(fields, "cryo_vial_position")
		}
	default:
		if submission.ThawID == "" {
			fields = append(fields, "thaw_id")
		} else {
			exists, err := s.thawIDExists(ctx, submission.ThawID)
			if err != nil {
				return nil, err
			}
			if !exists {
				fields = append(fields, "thaw_id")
			}
		}
	}

	return dedupeFields(fields), nil
}

func isThawEvent(eventType string) bool {
	return strings.EqualFold(strings.TrimSpace(eventType), EventTypeThawing)
}

func dedupeFields(fields []string) []string {
	seen := make(map[string]struct{}, len(fields))
	deduped := make([]string, 0, len(fields))
	for _, field := range fields {
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		deduped = append(deduped, field)
	}
	return deduped
}
