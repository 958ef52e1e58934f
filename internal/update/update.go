// Package update checks whether a newer release has been published.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	ReleasesURL  = "https://api.github.com/repos/ohengcom/shaking-news/releases/latest"
	checkTimeout = 5 * time.Second
)

type Release struct {
	Version string
	URL     string
}

type ghRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Latest returns the newest published release, or nil when it matches
// current. Development builds never report an update.
func Latest(ctx context.Context, client *http.Client, releasesURL, current string) (*Release, error) {
	if current == "" || current == "dev" {
		return nil, nil
	}
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releasesURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checking releases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("checking releases: unexpected status %d", resp.StatusCode)
	}

	var rel ghRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decoding release: %w", err)
	}

	latest := strings.TrimPrefix(rel.TagName, "v")
	if latest == "" || latest == strings.TrimPrefix(current, "v") {
		return nil, nil
	}
	return &Release{Version: latest, URL: rel.HTMLURL}, nil
}
