package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// governmentTLDs anchor the government-domain index to official sources.
var governmentTLDs = []string{
	".gov",
	".mil",
	".gov.uk",
	".gc.ca",
	".gov.au",
	".europa.eu",
	".admin.ch",
	".gouv.fr",
}

// GovIndexAdapter surfaces pages on government domains. It rides on a single
// search backend with a site-restricted query and keeps only results on
// recognized government TLDs, so a misbehaving engine can at worst return
// nothing rather than off-index noise.
type GovIndexAdapter struct {
	search *EngineSearch
}

// NewGovIndexAdapter builds the government-domain adapter on the given engine.
func NewGovIndexAdapter(engine *SearchEngine) *GovIndexAdapter {
	return &GovIndexAdapter{search: NewEngineSearch(engine)}
}

func (a *GovIndexAdapter) Name() string {
	return "gov-index"
}

func (a *GovIndexAdapter) Discover(ctx context.Context, req DiscoverRequest) ([]URLCandidate, error) {
	restricted := req
	restricted.Queries = make([]string, 0, len(req.Queries))
	for _, query := range req.Queries {
		restricted.Queries = append(restricted.Queries, query+" site:gov")
	}

	found, err := a.search.Discover(ctx, restricted)
	if err != nil {
		return nil, fmt.Errorf("gov search: %w", err)
	}

	candidates := make([]URLCandidate, 0, len(found))
	for _, cand := range found {
		if !onGovernmentDomain(cand.URL) {
			continue
		}
		cand.Source = a.Name()
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

func onGovernmentDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, tld := range governmentTLDs {
		if strings.HasSuffix(host, tld) {
			return true
		}
	}
	return false
}
