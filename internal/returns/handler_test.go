package returns_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/platform/httpx"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/rbac"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/returns"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/sales"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
	_ "github.com/Andersonizuwa/holyrosary-pharmacy-sub000/testing"
)

func newRouter(f fixture, principal shared.Principal) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithPrincipal(req.Context(), principal)))
		})
	})
	r.Route("/returns", returns.NewHandler(nil, f.returns, rbac.Middleware{}).MountRoutes)
	return r
}

func do(router http.Handler, method, path, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(httpx.IdempotencyHeader, key)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestReturnEndpoints(t *testing.T) {
	f := newFixture()
	med := f.store.AddMedicine("Paracetamol", 20, "10")
	receipt := f.sell(t, admin, sales.LineInput{MedicineID: med, Quantity: 5})
	seller := newRouter(f, shared.Principal{UserID: 9, Role: shared.RoleOther})

	body := fmt.Sprintf(`{"saleId":%d,"patientName":"Ada","medicines":[{"medicineId":%d,"quantityReturned":2}],"totalReturned":"999"}`, receipt.ID, med)
	rec := do(seller, http.MethodPost, "/returns", body, "r-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created returns.Return
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "20", created.TotalReturned.String())
	assert.False(t, created.IsFullReturn)

	rec = do(seller, http.MethodPost, "/returns", body, "r-1")
	require.Equal(t, http.StatusOK, rec.Code)

	over := fmt.Sprintf(`{"saleId":%d,"medicines":[{"medicineId":%d,"quantityReturned":4}]}`, receipt.ID, med)
	rec = do(seller, http.MethodPost, "/returns", over, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.NotNil(t, problem.Outstanding)
	assert.EqualValues(t, 3, *problem.Outstanding)
	require.NotNil(t, problem.Requested)
	assert.EqualValues(t, 4, *problem.Requested)

	rec = do(seller, http.MethodPost, "/returns", `{"medicines":[]}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(seller, http.MethodGet, fmt.Sprintf("/returns?saleId=%d", receipt.ID), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	path := fmt.Sprintf("/returns/%d", created.ID)
	assert.Equal(t, http.StatusForbidden, do(seller, http.MethodDelete, path, "", "").Code)
	assert.Equal(t, http.StatusNoContent, do(newRouter(f, admin), http.MethodDelete, path, "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(seller, http.MethodGet, path, "", "").Code)
	assert.EqualValues(t, 15, f.store.Quantity(med))
}
