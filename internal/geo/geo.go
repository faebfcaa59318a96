// Package geo resolves a user's country for payment routing. Resolution
// is total: every input combination yields a valid ISO 3166-1 alpha-2
// code, falling back to the configured default when nothing better is
// available.
package geo

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Method identifies which signal produced the resolved country.
type Method string

const (
	MethodProfile        Method = "profile"
	MethodGeoIP          Method = "geoip"
	MethodAcceptLanguage Method = "accept-language"
	MethodDefault        Method = "default"
)

var countryCodeRe = regexp.MustCompile(`^[A-Z]{2}$`)

// ValidCountryCode reports whether s is a well-formed ISO 3166-1 alpha-2
// code. Shape check only; it does not consult the assigned-code registry.
func ValidCountryCode(s string) bool {
	return countryCodeRe.MatchString(s)
}

// Locator resolves an IP address to a country code. Implementations talk
// to an external geolocation service and should fail fast.
type Locator interface {
	Locate(ctx context.Context, ip string) (string, error)
}

// Detector resolves a country from the signals available on a request, in
// strict precedence order: stored profile country, IP geolocation,
// Accept-Language region, configured default.
type Detector struct {
	locator        Locator
	defaultCountry string
	logger         *slog.Logger
}

// NewDetector builds a detector. locator may be nil, in which case the
// geoip tier is skipped. defaultCountry must be a valid alpha-2 code.
func NewDetector(locator Locator, defaultCountry string, logger *slog.Logger) *Detector {
	dc := strings.ToUpper(strings.TrimSpace(defaultCountry))
	if !ValidCountryCode(dc) {
		dc = "US"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{locator: locator, defaultCountry: dc, logger: logger}
}

// Detect returns the resolved country and the method that produced it.
// It never returns an error; degraded signals fall through to the next
// tier and ultimately to the default.
func (d *Detector) Detect(ctx context.Context, storedCountry, ip, acceptLanguage string) (string, Method) {
	if c := normalize(storedCountry); c != "" {
		return c, MethodProfile
	}

	if d.locator != nil && ip != "" {
		lctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		country, err := d.locator.Locate(lctx, ip)
		cancel()
		if err != nil {
			d.logger.Warn("geoip lookup failed, falling through",
				slog.String("ip", ip),
				slog.String("error", err.Error()))
		} else if c := normalize(country); c != "" {
			return c, MethodGeoIP
		}
	}

	if c := countryFromAcceptLanguage(acceptLanguage); c != "" {
		return c, MethodAcceptLanguage
	}

	return d.defaultCountry, MethodDefault
}

func normalize(s string) string {
	c := strings.ToUpper(strings.TrimSpace(s))
	if ValidCountryCode(c) {
		return c
	}
	return ""
}

// countryFromAcceptLanguage extracts the region subtag from the first
// language range that carries one, e.g. "es-AR,es;q=0.9" yields "AR".
func countryFromAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		lang := strings.TrimSpace(part)
		if i := strings.Index(lang, ";"); i >= 0 {
			lang = strings.TrimSpace(lang[:i])
		}
		segs := strings.Split(lang, "-")
		for _, seg := range segs[1:] {
			if c := normalize(seg); c != "" {
				return c
			}
		}
	}
	return ""
}
