// Package validation checks user-entered location fields before they reach the store.
package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// ErrValidation is matched by every *ValidationError via errors.Is.
var ErrValidation = errors.New("invalid input")

// ValidationError names the offending field and a message fit for a user-facing notification.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// MaxNameLength bounds stored location names, in runes.
const MaxNameLength = 100

// MaxQueryLength bounds city search queries, in runes.
const MaxQueryLength = 100

var validate = validator.New()

// LocationInput is the add/edit form as typed by the user. Coordinates arrive as text.
type LocationInput struct {
	Name      string `json:"name" validate:"required"`
	Latitude  string `json:"latitude" validate:"required"`
	Longitude string `json:"longitude" validate:"required"`
}

type coordinates struct {
	Latitude  float64 `validate:"gte=-90,lte=90"`
	Longitude float64 `validate:"gte=-180,lte=180"`
}

// Location is a validated LocationInput.
type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// ValidateLocation trims every field, keeps only the part of the name before the first comma
// ("Paris, Île-de-France, France" becomes "Paris"), and checks coordinate ranges.
func ValidateLocation(in LocationInput) (Location, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Latitude = strings.TrimSpace(in.Latitude)
	in.Longitude = strings.TrimSpace(in.Longitude)

	if err := validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			if fieldErrs[0].Field() == "Name" {
				return Location{}, invalid("name", "Please enter a city name")
			}
			return Location{}, invalid(strings.ToLower(fieldErrs[0].Field()), "Please fill in the coordinates")
		}
		return Location{}, fmt.Errorf("validate location: %w", err)
	}

	name := SimpleName(in.Name)
	if name == "" {
		return Location{}, invalid("name", "Please enter a city name")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return Location{}, invalid("name", fmt.Sprintf("City name must be at most %d characters", MaxNameLength))
	}

	lat, latErr := strconv.ParseFloat(in.Latitude, 64)
	lon, lonErr := strconv.ParseFloat(in.Longitude, 64)
	if latErr != nil || lonErr != nil {
		field := "latitude"
		if latErr == nil {
			field = "longitude"
		}
		return Location{}, invalid(field, "Coordinates must be valid numbers")
	}

	if err := validate.Struct(coordinates{Latitude: lat, Longitude: lon}); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 && fieldErrs[0].Field() == "Longitude" {
			return Location{}, invalid("longitude", "Longitude must be between -180 and 180")
		}
		return Location{}, invalid("latitude", "Latitude must be between -90 and 90")
	}

	return Location{Name: name, Latitude: lat, Longitude: lon}, nil
}

// SimpleName returns the trimmed text before the first comma.
func SimpleName(name string) string {
	if i := strings.IndexByte(name, ','); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

// ValidateQuery trims a city search query and enforces its length bound.
// An empty query is valid and means "no search".
func ValidateQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) > MaxQueryLength {
		return "", invalid("q", fmt.Sprintf("Search must be at most %d characters", MaxQueryLength))
	}
	return q, nil
}
