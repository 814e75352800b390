package http

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildURL joins a base URL with a relative path and encoded query
// parameters. An absolute path replaces the base path.
func BuildURL(baseURL, path string, queryParams map[string]string) (string, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("error parsing base URL: %w", err)
	}

	if strings.HasPrefix(path, "/") {
		parsedURL.Path = path
	} else if path != "" {
		parsedURL.Path = strings.TrimSuffix(parsedURL.Path, "/") + "/" + path
	}

	q := url.Values{}
	for key, value := range queryParams {
		q.Set(key, value)
	}
	parsedURL.RawQuery = q.Encode()

	return parsedURL.String(), nil
}
