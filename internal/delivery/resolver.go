// Package delivery resolves a customer neighborhood to its delivery zone and
// fee. Lookups are case-insensitive and exact; anything not in the table is
// quoted at the caller's fallback fee and flagged as unlisted.
package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

var ErrInvalidTable = errors.New("invalid zone table")

type Zone struct {
	Code string          `json:"code"`
	Name string          `json:"name"`
	Fee  decimal.Decimal `json:"fee"`
}

// Table is the reference data: zone code to zone, neighborhood to zone code.
type Table struct {
	Zones         map[string]Zone   `json:"zones"`
	Neighborhoods map[string]string `json:"neighborhoods"`
}

type Quote struct {
	Fee        decimal.Decimal `json:"fee"`
	ZoneName   *string         `json:"zoneName"`
	ZoneCode   *string         `json:"zoneCode"`
	IsUnlisted bool            `json:"isUnlisted"`
}

// Listing is one zone with the neighborhoods it serves.
type Listing struct {
	Zone
	Neighborhoods []string `json:"neighborhoods"`
}

// Resolver is immutable after construction and safe for concurrent use.
type Resolver struct {
	zones map[string]Zone
	index map[string]string
	table Table
}

func NewResolver(t Table) (*Resolver, error) {
	r := &Resolver{
		zones: make(map[string]Zone, len(t.Zones)),
		index: make(map[string]string, len(t.Neighborhoods)),
		table: t,
	}
	for code, z := range t.Zones {
		if code == "" || z.Fee.IsNegative() {
			return nil, fmt.Errorf("%w: zone %q", ErrInvalidTable, code)
		}
		z.Code = code
		r.zones[code] = z
	}
	for name, code := range t.Neighborhoods {
		if _, ok := r.zones[code]; !ok {
			return nil, fmt.Errorf("%w: neighborhood %q points at unknown zone %q", ErrInvalidTable, name, code)
		}
		key := fold(name)
		if key == "" {
			return nil, fmt.Errorf("%w: blank neighborhood name", ErrInvalidTable)
		}
		if prev, ok := r.index[key]; ok && prev != code {
			return nil, fmt.Errorf("%w: neighborhood %q mapped to both %q and %q", ErrInvalidTable, name, prev, code)
		}
		r.index[key] = code
	}
	return r, nil
}

// LoadTable reads a JSON zone table.
func LoadTable(rd io.Reader) (Table, error) {
	var t Table
	if err := json.NewDecoder(rd).Decode(&t); err != nil {
		return Table{}, fmt.Errorf("decode zone table: %w", err)
	}
	return t, nil
}

// Resolve never fails: blank or unknown names get the fallback fee.
func (r *Resolver) Resolve(neighborhood string, fallback decimal.Decimal) Quote {
	key := fold(neighborhood)
	if key == "" {
		return Quote{Fee: fallback, IsUnlisted: true}
	}
	code, ok := r.index[key]
	if !ok {
		return Quote{Fee: fallback, IsUnlisted: true}
	}
	z := r.zones[code]
	name, zc := z.Name, z.Code
	return Quote{Fee: z.Fee, ZoneName: &name, ZoneCode: &zc}
}

// Zones lists the table ordered by zone code, neighborhoods sorted by name.
func (r *Resolver) Zones() []Listing {
	byZone := make(map[string][]string, len(r.zones))
	for name, code := range r.table.Neighborhoods {
		byZone[code] = append(byZone[code], name)
	}
	out := make([]Listing, 0, len(r.zones))
	for code, z := range r.zones {
		names := byZone[code]
		sort.Strings(names)
		out = append(out, Listing{Zone: z, Neighborhoods: names})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// A Caser is stateful, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
