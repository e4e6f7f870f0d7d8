package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultRegistry = "https://registry.npmjs.org"
	DefaultTimeout  = 30 * time.Second
)

// ErrVersionNotFound is returned when a version or dist-tag does not exist.
var ErrVersionNotFound = errors.New("version not found")

// Client is an HTTP client for the npm registry.
type Client struct {
	httpClient  *http.Client
	registryURL string
}

// NewClient creates a new registry client. If registryURL is empty, the default
// npm registry is used; a non-positive timeout selects DefaultTimeout.
func NewClient(registryURL string, timeout time.Duration) *Client {
	if registryURL == "" {
		registryURL = DefaultRegistry
	}
	registryURL = strings.TrimRight(registryURL, "/")
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		registryURL: registryURL,
	}
}

// HTTPClient returns the underlying HTTP client, shared with tarball downloads.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// GetPackage fetches full metadata for a package from the registry.
func (c *Client) GetPackage(ctx context.Context, name string) (*PackageMetadata, error) {
	encodedName := url.PathEscape(name)
	reqURL := fmt.Sprintf("%s/%s", c.registryURL, encodedName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching package %q: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("package %q: registry returned status %d", name, resp.StatusCode)
	}

	var metadata PackageMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("decoding package %q: %w", name, err)
	}

	return &metadata, nil
}

// GetVersion resolves a version or dist-tag of a package. An empty version
// selects the "latest" tag.
func (c *Client) GetVersion(ctx context.Context, name, version string) (*PackageVersion, error) {
	meta, err := c.GetPackage(ctx, name)
	if err != nil {
		return nil, err
	}
	if version == "" {
		version = "latest"
	}
	if tagged, ok := meta.DistTags[version]; ok {
		version = tagged
	}
	v, ok := meta.Versions[version]
	if !ok {
		return nil, fmt.Errorf("%s@%s: %w", name, version, ErrVersionNotFound)
	}
	if v.Dist.Tarball == "" {
		return nil, fmt.Errorf("%s@%s: no tarball in registry metadata", name, version)
	}
	return &v, nil
}

// ParseSpec splits "name", "name@version" and "@scope/name@version".
func ParseSpec(spec string) (name, version string, err error) {
	spec = strings.TrimSpace(spec)
	at := strings.LastIndex(spec, "@")
	if at > 0 {
		name, version = spec[:at], spec[at+1:]
	} else {
		name = spec
	}
	if name == "" || name == "@" || (strings.HasPrefix(name, "@") && !strings.Contains(name, "/")) {
		return "", "", fmt.Errorf("invalid package spec %q", spec)
	}
	return name, version, nil
}
