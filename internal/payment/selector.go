package payment

import (
	"strings"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

// Selector maps a resolved country to exactly one processor. Pure table
// lookup: one domestic processor for the configured country set, one
// international fallback for everything else, including codes we have
// never seen.
type Selector struct {
	domestic map[string]struct{}
}

// NewSelector builds a selector for the given domestic country set.
// Countries are ISO 3166-1 alpha-2 codes, case-insensitive.
func NewSelector(domesticCountries []string) Selector {
	set := make(map[string]struct{}, len(domesticCountries))
	for _, c := range domesticCountries {
		set[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return Selector{domestic: set}
}

// Select returns the processor for a country code. Total: unrecognized or
// malformed codes fall through to the international processor.
func (s Selector) Select(countryCode string) domain.Processor {
	if _, ok := s.domestic[strings.ToUpper(strings.TrimSpace(countryCode))]; ok {
		return domain.ProcessorMercadoPago
	}
	return domain.ProcessorStripe
}
