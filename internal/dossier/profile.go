package dossier

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"dossierline/internal/domain"
)

var ErrInvalidProfileValue = errors.New("invalid profile value")

// FieldError is synchronous validation feedback for one profile field. It is
// never stored.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

func (e *FieldError) Unwrap() error { return ErrInvalidProfileValue }

const (
	FieldBirthDate             = "birth_date"
	FieldBirthCity             = "birth_city"
	FieldBirthCountry          = "birth_country"
	FieldNationality           = "nationality"
	FieldAddress               = "address"
	FieldPostalCode            = "postal_code"
	FieldCity                  = "city"
	FieldHealthInsuranceNumber = "health_insurance_number"
	FieldPreNumber             = "pre_number"
)

// healthInsuranceDigits is the length of a French social security number with its key.
const healthInsuranceDigits = 15

var preNumberPattern = regexp.MustCompile(`(?i)^(PRE|CAR)-\d{3}-\d{4}-\d{2}-\d{2}-\d{11,}$`)

// ProfileFields lists every profile field in form order.
func ProfileFields() []string {
	return []string{
		FieldBirthDate, FieldBirthCity, FieldBirthCountry, FieldNationality,
		FieldAddress, FieldPostalCode, FieldCity, FieldHealthInsuranceNumber, FieldPreNumber,
	}
}

// FieldValue returns the raw value of a profile field.
func FieldValue(p domain.Profile, field string) (string, bool) {
	switch field {
	case FieldBirthDate:
		return p.BirthDate, true
	case FieldBirthCity:
		return p.BirthCity, true
	case FieldBirthCountry:
		return p.BirthCountry, true
	case FieldNationality:
		return p.Nationality, true
	case FieldAddress:
		return p.Address, true
	case FieldPostalCode:
		return p.PostalCode, true
	case FieldCity:
		return p.City, true
	case FieldHealthInsuranceNumber:
		return p.HealthInsuranceNumber, true
	case FieldPreNumber:
		return p.PreNumber, true
	}
	return "", false
}

// SetFieldValue writes one profile field; false for an unknown field.
func SetFieldValue(p *domain.Profile, field, value string) bool {
	var dst *string
	switch field {
	case FieldBirthDate:
		dst = &p.BirthDate
	case FieldBirthCity:
		dst = &p.BirthCity
	case FieldBirthCountry:
		dst = &p.BirthCountry
	case FieldNationality:
		dst = &p.Nationality
	case FieldAddress:
		dst = &p.Address
	case FieldPostalCode:
		dst = &p.PostalCode
	case FieldCity:
		dst = &p.City
	case FieldHealthInsuranceNumber:
		dst = &p.HealthInsuranceNumber
	case FieldPreNumber:
		dst = &p.PreNumber
	default:
		return false
	}
	*dst = value
	return true
}

// ValidateProfileField checks one field value.
func ValidateProfileField(field, value string) error {
	switch field {
	case FieldHealthInsuranceNumber:
		if n := len(digitsOnly(value)); n != healthInsuranceDigits {
			return &FieldError{Field: field, Message: fmt.Sprintf("must contain exactly %d digits, got %d", healthInsuranceDigits, n)}
		}
		return nil
	case FieldPreNumber:
		if !ValidPreNumber(value) {
			return &FieldError{Field: field, Message: "must look like PRE-NNN-YYYY-MM-DD-NNNNNNNNNNN"}
		}
		return nil
	}
	if _, ok := FieldValue(domain.Profile{}, field); !ok {
		return &FieldError{Field: field, Message: "unknown field"}
	}
	if strings.TrimSpace(value) == "" {
		return &FieldError{Field: field, Message: "is required"}
	}
	return nil
}

// ValidateProfile returns one FieldError per failing field, in form order.
func ValidateProfile(p domain.Profile) []*FieldError {
	var out []*FieldError
	for _, field := range ProfileFields() {
		value, _ := FieldValue(p, field)
		if err := ValidateProfileField(field, value); err != nil {
			var fe *FieldError
			if errors.As(err, &fe) {
				out = append(out, fe)
			}
		}
	}
	return out
}

// ProfileComplete reports whether every profile rule passes.
func ProfileComplete(p domain.Profile) bool {
	return len(ValidateProfile(p)) == 0
}

// ValidPreNumber matches the administrative registration number after
// stripping internal whitespace.
func ValidPreNumber(v string) bool {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, v)
	return preNumberPattern.MatchString(compact)
}

func digitsOnly(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
