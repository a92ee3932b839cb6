package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Aggregator is the third-party aggregation API used as the fast path for
// social graph lookups. It is best effort; callers fall back to a relay
// query when it fails.
type Aggregator struct {
	baseURL string
	client  *http.Client
}

func NewAggregator(baseURL string) *Aggregator {
	return &Aggregator{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type followingResponse struct {
	Following []string `json:"following"`
}

// Following returns the set of followed pubkeys for an identity. Retries a
// couple of times with a fixed delay before giving up.
func (a *Aggregator) Following(ctx context.Context, pubkey string) ([]string, error) {
	var follows []string

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/following/%s", a.baseURL, pubkey), nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("aggregator returned status %d", resp.StatusCode)
		}

		var body followingResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("failed to decode aggregator response: %w", err)
		}

		follows = body.Following
		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 2),
		ctx,
	)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return follows, nil
}
