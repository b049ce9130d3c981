package utils

import (
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ttacon/libphonenumber"
)

// PhoneRegion is the default region used to parse local phone numbers without a country prefix.
var PhoneRegion = phoneRegionFromEnv()

func phoneRegionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("PHONE_REGION")); v != "" {
		return strings.ToUpper(v)
	}
	return "US"
}

// FormatPhone returns the national format of a valid phone number and the trimmed input otherwise.
func FormatPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	p, err := libphonenumber.Parse(phone, PhoneRegion)
	if err != nil || !libphonenumber.IsValidNumber(p) {
		return phone
	}
	return libphonenumber.Format(p, libphonenumber.NATIONAL)
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// DereferencePtr returns the pointed value or def for nil.
func DereferencePtr[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func NewString(s string) *string {
	return &s
}

// ConvertToDate converts t to midnight of its calendar date in loc.
func ConvertToDate(t time.Time, loc *time.Location) time.Time {
	localTime := t.In(loc)
	return time.Date(localTime.Year(), localTime.Month(), localTime.Day(), 0, 0, 0, 0, loc)
}
