package apiserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	dps "github.com/markusmobius/go-dateparser"

	"github.com/moolen/driftwatch/internal/models"
)

// writeJSON writes data as JSON without escaping HTML characters
func writeJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	return encoder.Encode(data)
}

// writeData writes a JSON response with the given status code
func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = writeJSON(w, data)
}

// writeError writes a JSON error envelope with the given status code
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = writeJSON(w, map[string]string{
		"error":   code,
		"message": message,
	})
}

// parseTimeParam parses a query timestamp, supporting both Unix seconds
// and human-readable dates ("2 hours ago", "2024-05-01"). An empty value
// returns the zero time. fieldName is used for error messages.
func parseTimeParam(value, fieldName string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	// First, try parsing as Unix timestamp
	if unix, err := strconv.ParseInt(value, 10, 64); err == nil {
		if unix < 0 {
			return time.Time{}, models.NewValidationError("%s must be a non-negative Unix timestamp", fieldName)
		}
		return time.Unix(unix, 0).UTC(), nil
	}

	// If not a valid integer, try parsing as human-readable date
	parser := dps.Parser{}
	cfg := &dps.Configuration{
		// Use CurrentPeriod so dates like "March" resolve to the current period
		PreferredDateSource: dps.CurrentPeriod,
	}

	parsed, err := parser.Parse(cfg, value)
	if err != nil {
		return time.Time{}, models.NewValidationError("%s must be a valid Unix timestamp or human-readable date: %v", fieldName, err)
	}
	if parsed.IsZero() {
		return time.Time{}, models.NewValidationError("%s could not be parsed as a valid date: %s", fieldName, value)
	}

	return parsed.Time.UTC(), nil
}

// parseIntParam parses a non-negative integer query parameter, returning
// def when the value is absent.
func parseIntParam(value, fieldName string, def int) (int, error) {
	if value == "" {
		return def, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, models.NewValidationError("%s must be a non-negative integer", fieldName)
	}
	return n, nil
}

// parseBoolParam parses an optional boolean query parameter. Absent
// values return nil so filters can distinguish "unset" from false.
func parseBoolParam(value, fieldName string) (*bool, error) {
	if value == "" {
		return nil, nil
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, models.NewValidationError("%s must be true or false", fieldName)
	}
	return &b, nil
}
