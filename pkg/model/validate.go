package model

import (
	"fmt"
	"net/url"
	"strings"
)

// FieldError is one field-level validation failure. The Code is a stable
// identifier callers (and the HTTP/WebSocket service boundary) can match
// on without parsing Message.
type FieldError struct {
	Field   string
	Code    string
	Message string
}

func (e FieldError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

// ValidationError collects one or more FieldErrors. It implements error
// so it composes with fmt.Errorf("...: %w", err) like any other error,
// while still letting the service boundary walk Errors to build an
// Input{fieldErrors} ServiceError.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

func newValidationError(errs ...FieldError) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

const maxCotoContentLength = 200_000
const maxNodeNameLength = 200

// ValidateNodeName enforces a non-empty, length-bounded node display name.
func ValidateNodeName(name string) error {
	if strings.TrimSpace(name) == "" {
		return newValidationError(FieldError{Field: "name", Code: "blank", Message: "name must not be blank"})
	}
	if len(name) > maxNodeNameLength {
		return newValidationError(FieldError{Field: "name", Code: "too_long", Message: fmt.Sprintf("name must be at most %d characters", maxNodeNameLength)})
	}
	return nil
}

// ValidateURLPrefix enforces that a ServerNode URL prefix is a well-formed
// absolute http(s) URL with no query or fragment.
func ValidateURLPrefix(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return newValidationError(FieldError{Field: "url_prefix", Code: "malformed", Message: "not a valid URL"})
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return newValidationError(FieldError{Field: "url_prefix", Code: "scheme", Message: "must be http or https"})
	}
	if u.Host == "" {
		return newValidationError(FieldError{Field: "url_prefix", Code: "no_host", Message: "must include a host"})
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return newValidationError(FieldError{Field: "url_prefix", Code: "extra_parts", Message: "must not include a query or fragment"})
	}
	return nil
}

// ValidateCotoContent enforces the size bound on coto content/summary
// text. Both content and summary may be empty (a coto may carry only
// media), but not both.
func ValidateCotoContent(content, summary *string, hasMedia bool) error {
	if content == nil && summary == nil && !hasMedia {
		return newValidationError(FieldError{Field: "content", Code: "empty", Message: "a coto must have content, a summary, or media"})
	}
	if content != nil && len(*content) > maxCotoContentLength {
		return newValidationError(FieldError{Field: "content", Code: "too_long", Message: fmt.Sprintf("content must be at most %d bytes", maxCotoContentLength)})
	}
	if summary != nil && len(*summary) > MaxCotonomaNameLength {
		return newValidationError(FieldError{Field: "summary", Code: "too_long", Message: fmt.Sprintf("summary must be at most %d characters", MaxCotonomaNameLength)})
	}
	return nil
}

// ValidateCotonomaName enforces the 50-character cap shared by
// Cotonoma.Name and the backing Coto's summary.
func ValidateCotonomaName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return newValidationError(FieldError{Field: "name", Code: "blank", Message: "cotonoma name must not be blank"})
	}
	if len([]rune(trimmed)) > MaxCotonomaNameLength {
		return newValidationError(FieldError{Field: "name", Code: "too_long", Message: fmt.Sprintf("cotonoma name must be at most %d characters", MaxCotonomaNameLength)})
	}
	return nil
}

// ValidateGeolocation enforces longitude in [-180, 180] and latitude in
// [-90, 90].
func ValidateGeolocation(g Geolocation) error {
	var errs []FieldError
	if g.Longitude < -180 || g.Longitude > 180 {
		errs = append(errs, FieldError{Field: "longitude", Code: "out_of_range", Message: "must be between -180 and 180"})
	}
	if g.Latitude < -90 || g.Latitude > 90 {
		errs = append(errs, FieldError{Field: "latitude", Code: "out_of_range", Message: "must be between -90 and 90"})
	}
	return newValidationError(errs...)
}

// PromoteSummary trims a coto's content down to a valid Cotonoma.Name,
// truncating at MaxCotonomaNameLength runes if necessary.
func PromoteSummary(content string) string {
	trimmed := strings.TrimSpace(content)
	runes := []rune(trimmed)
	if len(runes) > MaxCotonomaNameLength {
		runes = runes[:MaxCotonomaNameLength]
	}
	return string(runes)
}
