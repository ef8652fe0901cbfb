// Package schedule supplies the fixture list consumed by the
// orchestrator. Retrieval and parsing of the authoritative schedule
// belong to an external collaborator; this package defines the
// consumed contract plus a thin HTTP client and a retrying decorator.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/courtside/scorekeeper/internal/domain"
)

// FixtureProvider fetches the fixtures scheduled for a given date.
type FixtureProvider interface {
	FetchFixtures(ctx context.Context, date time.Time) ([]domain.Fixture, error)
}

// HTTPProvider fetches fixtures from the venue schedule service.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider for the given base URL.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPProvider) FetchFixtures(ctx context.Context, date time.Time) ([]domain.Fixture, error) {
	url := fmt.Sprintf("%s/fixtures?date=%s", p.baseURL, date.Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build fixtures request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch fixtures: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch fixtures: unexpected status %d", resp.StatusCode)
	}

	var fixtures []domain.Fixture
	if err := json.NewDecoder(resp.Body).Decode(&fixtures); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	return fixtures, nil
}
