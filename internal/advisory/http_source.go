package advisory

import (
	"context"
	"fmt"

	"github.com/wonny/cyclebot/internal/contracts"
	"github.com/wonny/cyclebot/pkg/httputil"
)

// HTTPSource POSTs the advisory request as JSON and reads {recommended, rationale}
type HTTPSource struct {
	id     string
	url    string
	client *httputil.Client
}

// NewHTTPSource creates an HTTP advisory source
func NewHTTPSource(id, url string, client *httputil.Client) *HTTPSource {
	return &HTTPSource{id: id, url: url, client: client}
}

func (s *HTTPSource) ID() string { return s.id }

// Advise calls the endpoint once; the gate owns the timeout
func (s *HTTPSource) Advise(ctx context.Context, req contracts.AdvisoryRequest) (Opinion, error) {
	var payload opinionPayload
	if err := s.client.PostJSON(ctx, s.url, req, &payload); err != nil {
		return Opinion{}, fmt.Errorf("post %s: %w", req.Symbol, err)
	}
	return payload.opinion()
}
