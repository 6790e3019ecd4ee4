package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"subscription-reconciler/internal/domain"
	"subscription-reconciler/internal/domain/ports/adapter"
	"subscription-reconciler/internal/infra/metrics"
)

// Ensure Client implements adapter.SponsorshipProvider
var _ adapter.SponsorshipProvider = (*Client)(nil)

const providerName = "github"

const sponsorsQuery = `
query($cursor: String) {
  viewer {
    sponsorshipsAsMaintainer(first: 100, after: $cursor, activeOnly: true) {
      pageInfo { hasNextPage endCursor }
      nodes { id }
    }
  }
}`

// Client lists the currently active sponsorships through the GitHub GraphQL
// API, paginating until the feed is exhausted.
type Client struct {
	apiURL     string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(apiURL, token string, log zerolog.Logger) *Client {
	return &Client{
		apiURL:     apiURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.With().Str("component", "github-client").Logger(),
	}
}

func (c *Client) Name() string { return providerName }

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type sponsorsResponse struct {
	Data struct {
		Viewer struct {
			SponsorshipsAsMaintainer struct {
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
				Nodes []struct {
					ID string `json:"id"`
				} `json:"nodes"`
			} `json:"sponsorshipsAsMaintainer"`
		} `json:"viewer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// GetActiveSponsors returns every active sponsorship id. A partial read is
// never returned; any page failure fails the whole listing.
func (c *Client) GetActiveSponsors(ctx context.Context) (sponsors []adapter.Sponsor, err error) {
	defer func() { metrics.IncProviderRequest(providerName, err) }()

	var cursor *string
	for {
		page, info, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		sponsors = append(sponsors, page...)
		if !info.hasNextPage {
			break
		}
		next := info.endCursor
		cursor = &next
	}
	c.log.Debug().Int("count", len(sponsors)).Msg("active sponsors listed")
	return sponsors, nil
}

type pageInfo struct {
	hasNextPage bool
	endCursor   string
}

func (c *Client) fetchPage(ctx context.Context, cursor *string) ([]adapter.Sponsor, pageInfo, error) {
	payload, err := json.Marshal(graphQLRequest{
		Query:     sponsorsQuery,
		Variables: map[string]interface{}{"cursor": cursor},
	})
	if err != nil {
		return nil, pageInfo{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, pageInfo{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pageInfo{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, pageInfo{}, fmt.Errorf("%w: status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}

	var body sponsorsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, pageInfo{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	if len(body.Errors) > 0 {
		return nil, pageInfo{}, fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, body.Errors[0].Message)
	}

	conn := body.Data.Viewer.SponsorshipsAsMaintainer
	out := make([]adapter.Sponsor, 0, len(conn.Nodes))
	for _, n := range conn.Nodes {
		out = append(out, adapter.Sponsor{ID: n.ID})
	}
	return out, pageInfo{hasNextPage: conn.PageInfo.HasNextPage, endCursor: conn.PageInfo.EndCursor}, nil
}
