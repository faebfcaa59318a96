package geo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectProfileWins(t *testing.T) {
	locator := &MockLocator{
		LocateFunc: func(ctx context.Context, ip string) (string, error) {
			t.Fatal("locator should not be called when a profile country exists")
			return "", nil
		},
	}
	d := NewDetector(locator, "US", nil)

	country, method := d.Detect(context.Background(), "ar", "200.51.1.1", "en-US")
	assert.Equal(t, "AR", country)
	assert.Equal(t, MethodProfile, method)
}

func TestDetectGeoIP(t *testing.T) {
	locator := &MockLocator{
		LocateFunc: func(ctx context.Context, ip string) (string, error) {
			assert.Equal(t, "200.51.1.1", ip)
			return "AR", nil
		},
	}
	d := NewDetector(locator, "US", nil)

	country, method := d.Detect(context.Background(), "", "200.51.1.1", "")
	assert.Equal(t, "AR", country)
	assert.Equal(t, MethodGeoIP, method)
}

func TestDetectGeoIPFailureFallsThrough(t *testing.T) {
	locator := &MockLocator{
		LocateFunc: func(ctx context.Context, ip string) (string, error) {
			return "", errors.New("service down")
		},
	}
	d := NewDetector(locator, "US", nil)

	country, method := d.Detect(context.Background(), "", "200.51.1.1", "es-AR,es;q=0.9")
	assert.Equal(t, "AR", country)
	assert.Equal(t, MethodAcceptLanguage, method)
}

func TestDetectAcceptLanguage(t *testing.T) {
	d := NewDetector(nil, "US", nil)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"simple region", "es-AR", "AR"},
		{"with quality values", "pt-BR,pt;q=0.9,en;q=0.8", "BR"},
		{"region on second range", "es,es-MX;q=0.9", "MX"},
		{"three-part tag", "zh-Hant-TW", "TW"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			country, method := d.Detect(context.Background(), "", "", tt.header)
			assert.Equal(t, tt.want, country)
			assert.Equal(t, MethodAcceptLanguage, method)
		})
	}
}

func TestDetectDefault(t *testing.T) {
	d := NewDetector(nil, "US", nil)

	tests := []struct {
		name   string
		stored string
		ip     string
		lang   string
	}{
		{"nothing available", "", "", ""},
		{"malformed stored country", "argentina", "", ""},
		{"language without region", "", "", "es"},
		{"garbage header", "", "", ";;;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			country, method := d.Detect(context.Background(), tt.stored, tt.ip, tt.lang)
			assert.Equal(t, "US", country)
			assert.Equal(t, MethodDefault, method)
		})
	}
}

func TestValidCountryCode(t *testing.T) {
	assert.True(t, ValidCountryCode("AR"))
	assert.True(t, ValidCountryCode("US"))
	assert.False(t, ValidCountryCode("ar"))
	assert.False(t, ValidCountryCode("ARG"))
	assert.False(t, ValidCountryCode(""))
	assert.False(t, ValidCountryCode("A1"))
}
