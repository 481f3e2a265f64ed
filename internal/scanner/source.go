package scanner

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"
)

// HTTPFrameSource pulls still frames from a camera's snapshot endpoint
// (IP webcams and most capture daemons expose one).
type HTTPFrameSource struct {
	url    string
	client *http.Client
}

// OpenHTTPFrameSource verifies the endpoint with a probe request and
// returns the source. A failed probe means the camera is unavailable and
// the scanner must not start.
func OpenHTTPFrameSource(ctx context.Context, url string) (FrameSource, error) {
	src := &HTTPFrameSource{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
	if _, err := src.Grab(ctx); err != nil {
		return nil, fmt.Errorf("frame source unavailable: %w", err)
	}
	return src, nil
}

// Grab fetches and decodes one frame.
func (s *HTTPFrameSource) Grab(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot endpoint returned %s", resp.Status)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Close releases the source. The HTTP client holds no camera handle, so
// closing idle connections is all that is needed.
func (s *HTTPFrameSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
