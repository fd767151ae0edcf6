// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

// IdempotencyHeader carries the client's retry token on create requests.
const IdempotencyHeader = "Idempotency-Key"

const dateLayout = "2006-01-02"

var validate = validator.New(validator.WithRequiredStructEnabled())

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type        string `json:"type,omitempty"`
	Title       string `json:"title"`
	Status      int    `json:"status"`
	Detail      string `json:"detail,omitempty"`
	Available   *int64 `json:"available,omitempty"`
	Requested   *int64 `json:"requested,omitempty"`
	Outstanding *int64 `json:"outstanding,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	WriteProblem(w, ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteProblem sends a fully populated problem document.
func WriteProblem(w http.ResponseWriter, p ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}

// Bind decodes the body into target and runs its validate tags. Failures wrap
// shared.ErrValidation.
func Bind(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return shared.Validationf("invalid JSON body: %v", err)
	}
	if err := validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return shared.Validationf("%s", strings.Join(fields, "; "))
		}
		return shared.Validationf("%v", err)
	}
	return nil
}

// ParseID reads a positive integer URL parameter.
func ParseID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validationf("invalid %s %q", name, raw)
	}
	return id, nil
}

// QueryInt64 reads an optional positive integer query parameter.
func QueryInt64(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, shared.Validationf("invalid %s %q", name, raw)
	}
	return v, nil
}

// ParsePage reads page and perPage query parameters.
func ParsePage(r *http.Request) (shared.PageRequest, error) {
	page, err := QueryInt64(r, "page")
	if err != nil {
		return shared.PageRequest{}, err
	}
	if page > shared.MaxPage {
		return shared.PageRequest{}, shared.Validationf("page must be at most %d", shared.MaxPage)
	}
	perPage, err := QueryInt64(r, "perPage")
	if err != nil {
		return shared.PageRequest{}, err
	}
	perPage = min(perPage, shared.MaxPage)
	return shared.PageRequest{Page: int(page), PerPage: int(perPage)}.Normalize(), nil
}

// QueryDate reads an optional YYYY-MM-DD query parameter.
func QueryDate(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, shared.Validationf("invalid %s %q, want YYYY-MM-DD", name, raw)
	}
	return t, nil
}

// Created writes 201 for a new resource and 200 when an idempotent retry
// returned an existing one.
func Created(w http.ResponseWriter, replayed bool, data any) {
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	JSON(w, status, data)
}
