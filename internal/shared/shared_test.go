package shared

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, r := range AllRoles {
		got, err := ParseRole(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	for _, raw := range []string{"", "IPP", "pharmacist", "admin "} {
		_, err := ParseRole(raw)
		assert.ErrorIs(t, err, ErrValidation, raw)
	}
}

func TestRoleCapabilities(t *testing.T) {
	cases := []struct {
		role                             Role
		sells, receives, notified, stock bool
		label                            string
	}{
		{RoleIPP, true, true, true, false, "IPP"},
		{RoleDispensary, true, true, true, false, "Dispensary"},
		{RoleOther, false, true, false, false, "Other"},
		{RoleAdmin, false, false, false, true, "Admin"},
		{RoleStoreOfficer, false, false, false, true, "Store Officer"},
		{RoleSuperAdmin, false, false, false, true, "Super Admin"},
	}
	require.Len(t, cases, len(AllRoles))
	for _, tc := range cases {
		t.Run(string(tc.role), func(t *testing.T) {
			assert.Equal(t, tc.sells, tc.role.SellsFromDelegation())
			assert.Equal(t, tc.receives, tc.role.ReceivesDelegation())
			assert.Equal(t, tc.notified, tc.role.ReceivesNotifications())
			assert.Equal(t, tc.stock, tc.role.ManagesStock())
			assert.Equal(t, tc.label, tc.role.Label())
		})
	}
	assert.False(t, Role("cashier").ManagesStock())
	assert.Equal(t, "Role(cashier)", Role("cashier").Label())
}

func TestTypedLedgerErrors(t *testing.T) {
	var err error = fmt.Errorf("record sale: %w", &InsufficientStockError{MedicineID: 4, Available: 3, Requested: 5})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.False(t, errors.Is(err, ErrOverReturn))
	var stock *InsufficientStockError
	require.ErrorAs(t, err, &stock)
	assert.EqualValues(t, 3, stock.Available)

	err = fmt.Errorf("create return: %w", &OverReturnError{SaleID: 1, MedicineID: 2, Outstanding: 1, Requested: 2})
	assert.ErrorIs(t, err, ErrOverReturn)
	assert.Contains(t, err.Error(), "1 outstanding, 2 requested")

	assert.ErrorIs(t, Validationf("quantity %d", -1), ErrValidation)
	assert.ErrorIs(t, NotFoundf("medicine %d", 9), ErrNotFound)
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	assert.Equal(t, Pagination{Page: 1, PerPage: 20, Total: 45, TotalPages: 3}, p)
	assert.Equal(t, 100, PageRequest{PerPage: 1000}.Limit())
	assert.Equal(t, 40, PageRequest{Page: 3, PerPage: 20}.Offset())
	assert.Equal(t, (MaxPage-1)*100, PageRequest{Page: math.MaxInt, PerPage: 100}.Offset())
	assert.Equal(t, 0, NewPagination(1, 10, 0).TotalPages)
}
