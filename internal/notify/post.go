package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// poster delivers JSON bodies to user-configured URLs.
type poster struct {
	httpc *resty.Client
}

func newPoster() poster {
	httpc := resty.New()
	httpc.SetTimeout(5 * time.Second)
	httpc.SetHeader("Content-Type", "application/json")
	httpc.SetHeader("User-Agent", "ctrlscan-api")
	return poster{httpc: httpc}
}

// post sends body to url; any answer outside 2xx is an error.
func (p poster) post(ctx context.Context, channel, url string, body []byte, headers map[string]string) error {
	resp, err := p.httpc.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		Post(url)
	if err != nil {
		return fmt.Errorf("%s: %w", channel, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("%s returned %d", channel, resp.StatusCode())
	}
	return nil
}
