package recipe

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// FDIVersionHeader carries the frontend driver interface version the client
// speaks.
const FDIVersionHeader = "fdi-version"

// DecodeJSONBody decodes the request body into dst. An empty body leaves dst
// untouched; malformed JSON is a BadInputError.
func DecodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return NewBadInputError("Could not read request body")
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return NewBadInputError(typeErr.Field + " has an invalid type")
		}
		return NewBadInputError("Invalid JSON input")
	}
	return nil
}

// SendJSON writes v as JSON with the given status.
func SendJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// Send200 writes v as a 200 JSON response.
func Send200(w http.ResponseWriter, v any) error {
	return SendJSON(w, http.StatusOK, v)
}

// SendNon200 writes {"message": msg} with the given status.
func SendNon200(w http.ResponseWriter, status int, msg string) error {
	return SendJSON(w, status, map[string]any{"message": msg})
}

// FDIVersionAtLeast reports whether the request's fdi-version header is at
// least minVersion. A missing or unparsable header counts as the latest
// version. Comma separated headers use their highest entry.
func FDIVersionAtLeast(r *http.Request, minVersion string) bool {
	header := strings.TrimSpace(r.Header.Get(FDIVersionHeader))
	if header == "" {
		return true
	}
	want, err := semver.NewVersion(minVersion)
	if err != nil {
		return true
	}
	var best *semver.Version
	for _, part := range strings.Split(header, ",") {
		v, err := semver.NewVersion(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	if best == nil {
		return true
	}
	return !best.LessThan(want)
}

// QueryBool reads a boolean query parameter, returning def when absent.
func QueryBool(r *http.Request, key string, def bool) bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// SendInvalidClaim writes the 403 body for a failed claim check.
func SendInvalidClaim(w http.ResponseWriter, claimID string) error {
	return SendJSON(w, http.StatusForbidden, map[string]any{
		"message": "invalid claim",
		"claimValidationErrors": []map[string]any{{
			"id":     claimID,
			"reason": map[string]any{"message": "wrong value", "expectedValue": true, "actualValue": false},
		}},
	})
}
