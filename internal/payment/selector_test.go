package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

func TestSelectorDomesticCountries(t *testing.T) {
	s := NewSelector([]string{"AR"})

	assert.Equal(t, domain.ProcessorMercadoPago, s.Select("AR"))
	assert.Equal(t, domain.ProcessorMercadoPago, s.Select("ar"))
	assert.Equal(t, domain.ProcessorMercadoPago, s.Select(" AR "))
}

func TestSelectorInternationalFallback(t *testing.T) {
	s := NewSelector([]string{"AR"})

	tests := []struct {
		name    string
		country string
	}{
		{"united states", "US"},
		{"germany", "DE"},
		{"empty string", ""},
		{"garbage input", "not-a-country"},
		{"unassigned code", "ZZ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, domain.ProcessorStripe, s.Select(tt.country))
		})
	}
}

func TestSelectorMultipleDomesticCountries(t *testing.T) {
	s := NewSelector([]string{"AR", "uy"})

	assert.Equal(t, domain.ProcessorMercadoPago, s.Select("UY"))
	assert.Equal(t, domain.ProcessorMercadoPago, s.Select("AR"))
	assert.Equal(t, domain.ProcessorStripe, s.Select("BR"))
}
