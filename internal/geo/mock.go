package geo

import "context"

// MockLocator implements Locator with a function field for testing.
type MockLocator struct {
	LocateFunc func(ctx context.Context, ip string) (string, error)
}

func (m *MockLocator) Locate(ctx context.Context, ip string) (string, error) {
	if m.LocateFunc != nil {
		return m.LocateFunc(ctx, ip)
	}
	return "US", nil
}
