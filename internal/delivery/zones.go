package delivery

import "github.com/shopspring/decimal"

// DefaultTable is the built-in São Paulo coverage used when no zones file is
// configured.
func DefaultTable() Table {
	return Table{
		Zones: map[string]Zone{
			"S": {Name: "Saúde", Fee: decimal.RequireFromString("4.00")},
			"C": {Name: "Centro", Fee: decimal.RequireFromString("7.00")},
			"O": {Name: "Zona Oeste", Fee: decimal.RequireFromString("9.00")},
			"L": {Name: "Zona Leste", Fee: decimal.RequireFromString("11.00")},
			"N": {Name: "Zona Norte", Fee: decimal.RequireFromString("12.00")},
		},
		Neighborhoods: map[string]string{
			"Vila da Saude":     "S",
			"Vila da Saúde":     "S",
			"Saúde":             "S",
			"Saude":             "S",
			"Vila Mariana":      "S",
			"Jabaquara":         "S",
			"Mirandópolis":      "S",
			"Planalto Paulista": "S",
			"Bosque da Saúde":   "S",
			"Ipiranga":          "S",
			"Sé":                "C",
			"República":         "C",
			"Bela Vista":        "C",
			"Liberdade":         "C",
			"Consolação":        "C",
			"Cambuci":           "C",
			"Pinheiros":         "O",
			"Vila Madalena":     "O",
			"Perdizes":          "O",
			"Butantã":           "O",
			"Lapa":              "O",
			"Mooca":             "L",
			"Tatuapé":           "L",
			"Belém":             "L",
			"Penha":             "L",
			"Santana":           "N",
			"Tucuruvi":          "N",
			"Casa Verde":        "N",
			"Vila Guilherme":    "N",
		},
	}
}

// Default builds a resolver over DefaultTable.
func Default() *Resolver {
	r, err := NewResolver(DefaultTable())
	if err != nil {
		panic(err)
	}
	return r
}
