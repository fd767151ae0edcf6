package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

func TestRespondErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", shared.Validationf("quantity must be positive"), http.StatusBadRequest},
		{"not found", fmt.Errorf("load sale: %w", shared.ErrNotFound), http.StatusNotFound},
		{"stock", &shared.InsufficientStockError{MedicineID: 1, Available: 2, Requested: 3}, http.StatusBadRequest},
		{"over return", &shared.OverReturnError{SaleID: 1, MedicineID: 2, Outstanding: 1, Requested: 4}, http.StatusBadRequest},
		{"unauthorized", shared.ErrUnauthorized, http.StatusUnauthorized},
		{"credentials", shared.ErrInvalidCredentials, http.StatusUnauthorized},
		{"forbidden", shared.ErrForbidden, http.StatusForbidden},
		{"conflict", shared.ErrIdempotencyConflict, http.StatusConflict},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestRespondErrorStockFields(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("record sale: %w", &shared.InsufficientStockError{MedicineID: 9, Available: 5, Requested: 8}))

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Available)
	require.NotNil(t, body.Requested)
	assert.EqualValues(t, 5, *body.Available)
	assert.EqualValues(t, 8, *body.Requested)
	assert.Equal(t, "insufficient-stock", body.Type)
}

func TestInternalErrorHidesDetailOutsideDebug(t *testing.T) {
	t.Cleanup(func() { SetDebug(false) })

	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: relation missing"))
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Detail)

	SetDebug(true)
	rec = httptest.NewRecorder()
	RespondError(rec, errors.New("pq: relation missing"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pq: relation missing", body.Detail)
}

func TestParsePage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/sales?page=3&perPage=500", nil)
	page, err := ParsePage(req)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, 100, page.PerPage)
	assert.Equal(t, 200, page.Offset())

	for _, raw := range []string{"page=9223372036854775807", "page=-1", "page=x", "perPage=-5"} {
		_, err := ParsePage(httptest.NewRequest(http.MethodGet, "/sales?"+raw, nil))
		assert.ErrorIs(t, err, shared.ErrValidation, raw)
	}
}
