package delivery

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var twenty = decimal.NewFromInt(20)

func TestResolve(t *testing.T) {
	r := Default()

	tests := []struct {
		name         string
		neighborhood string
		wantFee      string
		wantZone     string
		wantUnlisted bool
	}{
		{"listed", "Vila da Saude", "4.00", "S", false},
		{"case insensitive", "VILA DA SAUDE", "4.00", "S", false},
		{"surrounding space", "  vila mariana ", "4.00", "S", false},
		{"accented", "tatuapé", "11.00", "L", false},
		{"unknown", "Nonexistent Place", "20.00", "", true},
		{"partial is not a match", "Vila da", "20.00", "", true},
		{"empty", "", "20.00", "", true},
		{"blank", "   ", "20.00", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := r.Resolve(tt.neighborhood, twenty)

			assert.True(t, decimal.RequireFromString(tt.wantFee).Equal(q.Fee), "fee %s", q.Fee)
			assert.Equal(t, tt.wantUnlisted, q.IsUnlisted)
			if tt.wantZone == "" {
				assert.Nil(t, q.ZoneCode)
				assert.Nil(t, q.ZoneName)
				return
			}
			require.NotNil(t, q.ZoneCode)
			assert.Equal(t, tt.wantZone, *q.ZoneCode)
			assert.NotNil(t, q.ZoneName)
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	r := Default()
	first := r.Resolve("Pinheiros", twenty)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Resolve("Pinheiros", twenty))
	}
}

func TestNewResolver_RejectsBadTables(t *testing.T) {
	_, err := NewResolver(Table{
		Zones:         map[string]Zone{"A": {Name: "A", Fee: decimal.NewFromInt(1)}},
		Neighborhoods: map[string]string{"Somewhere": "B"},
	})
	assert.ErrorIs(t, err, ErrInvalidTable)

	_, err = NewResolver(Table{
		Zones: map[string]Zone{
			"A": {Name: "A", Fee: decimal.NewFromInt(1)},
			"B": {Name: "B", Fee: decimal.NewFromInt(2)},
		},
		Neighborhoods: map[string]string{"Centro": "A", "CENTRO": "B"},
	})
	assert.ErrorIs(t, err, ErrInvalidTable)

	_, err = NewResolver(Table{
		Zones: map[string]Zone{"A": {Name: "A", Fee: decimal.NewFromInt(-1)}},
	})
	assert.ErrorIs(t, err, ErrInvalidTable)
}

func TestLoadTable(t *testing.T) {
	tbl, err := LoadTable(strings.NewReader(`{
		"zones": {"X": {"name": "Extra", "fee": "5.50"}},
		"neighborhoods": {"Aclimação": "X"}
	}`))
	require.NoError(t, err)

	r, err := NewResolver(tbl)
	require.NoError(t, err)

	q := r.Resolve("aclimação", twenty)
	assert.False(t, q.IsUnlisted)
	assert.Equal(t, "5.5", q.Fee.String())

	_, err = LoadTable(strings.NewReader(`{"zones":`))
	assert.Error(t, err)
}

func TestZones_Sorted(t *testing.T) {
	zs := Default().Zones()
	require.NotEmpty(t, zs)
	for i := 1; i < len(zs); i++ {
		assert.Less(t, zs[i-1].Code, zs[i].Code)
	}
	for _, z := range zs {
		assert.NotEmpty(t, z.Neighborhoods, z.Code)
	}
}
