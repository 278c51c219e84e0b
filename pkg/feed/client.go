// Package feed implements the universal feed HTTP client.
//
// A feed exposes three operations the client consumes: listing the published
// versions of a package, downloading a package's archive bytes, and
// uploading a new package. Requests carry basic authentication when
// credentials are supplied.
//
// The client never retries on its own; transient-failure policy belongs to
// the caller (registry lock contention is the only retried condition in this
// system).
package feed

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/dnscache"

	"github.com/upackio/upack/pkg/errors"
	"github.com/upackio/upack/pkg/manifest"
	"github.com/upackio/upack/pkg/version"
)

// Credentials hold a basic-auth user name and password.
type Credentials struct {
	Username string
	Password string
}

// RemotePackage is the feed's response to a version listing.
type RemotePackage struct {
	Group         string   `json:"group,omitempty"`
	Name          string   `json:"name"`
	LatestVersion string   `json:"latestVersion,omitempty"`
	Versions      []string `json:"versions"`
}

// Client talks to a single universal feed endpoint.
type Client struct {
	base  string
	creds *Credentials
	http  *http.Client
}

// NewClient creates a Client for the feed at baseURL. Credentials may be nil
// for unauthenticated feeds.
func NewClient(baseURL string, creds *Credentials) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		creds: creds,
		http:  newHTTPClient(),
	}
}

// newHTTPClient builds an HTTP client with a cached-DNS dialer. Resolution
// of a deep dependency tree hits the same feed host once per package, so
// repeated lookups are wasted work.
func newHTTPClient() *http.Client {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Timeout: 5 * time.Minute, // packages can be large
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, err
				}
				ips, err := resolver.LookupHost(ctx, host)
				if err != nil {
					return nil, err
				}
				var lastErr error
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
					lastErr = err
				}
				return nil, lastErr
			},
		},
	}
}

// URL returns the feed endpoint the client talks to.
func (c *Client) URL() string { return c.base }

// ListVersions fetches the published versions of a package.
func (c *Client) ListVersions(ctx context.Context, id manifest.Identity) (*RemotePackage, error) {
	addr := c.base + "/packages?" + url.Values{"group": {id.Group}, "name": {id.Name}}.Encode()

	body, err := c.get(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var remote RemotePackage
	if err := json.NewDecoder(body).Decode(&remote); err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetwork, err, "decoding response from %s", addr)
	}
	return &remote, nil
}

// ResolveVersion turns a version constraint into a concrete version.
//
// A pinned constraint is validated and returned as-is. An empty constraint,
// "*", or "latest" resolves to the highest published version; prerelease
// versions are excluded unless prerelease is true.
func (c *Client) ResolveVersion(ctx context.Context, id manifest.Identity, constraint string, prerelease bool) (*version.Version, error) {
	if constraint != "" && constraint != "*" && !strings.EqualFold(constraint, "latest") {
		return version.Parse(constraint)
	}

	remote, err := c.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(remote.Versions) == 0 {
		return nil, errors.New(errors.ErrCodePackageNotFound, "no versions of package %s found", id)
	}

	var latest *version.Version
	for _, s := range remote.Versions {
		v, err := version.Parse(s)
		if err != nil {
			return nil, err
		}
		if !prerelease && v.Prerelease != "" {
			continue
		}
		if latest == nil || latest.Compare(v) < 0 {
			latest = v
		}
	}
	if latest == nil {
		return nil, errors.New(errors.ErrCodePackageNotFound, "no stable versions of package %s found", id)
	}
	return latest, nil
}

// Download streams the archive bytes of a concrete package version into w.
func (c *Client) Download(ctx context.Context, id manifest.Identity, v *version.Version, w io.Writer) error {
	addr := c.downloadURL(id, v)
	body, err := c.get(ctx, addr)
	if err != nil {
		return err
	}
	defer body.Close()

	if _, err := io.Copy(w, body); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(errors.ErrCodeNetwork, err, "GET %s", addr)
	}
	return nil
}

func (c *Client) downloadURL(id manifest.Identity, v *version.Version) string {
	encoded := url.PathEscape(id.Name)
	if id.Group != "" {
		encoded = url.PathEscape(id.Group) + "/" + encoded
	}
	return c.base + "/download/" + encoded + "/" + url.PathEscape(v.String())
}

// Upload publishes a package archive. The feed responds 201 Created on
// success.
func (c *Client) Upload(ctx context.Context, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base, r)
	if err != nil {
		return errors.Wrap(errors.ErrCodeNetwork, err, "PUT %s", c.base)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrCodeNetwork, err, "PUT %s", c.base)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return errors.New(errors.ErrCodeNetwork, "PUT %s: %s", c.base, resp.Status)
	}
	return nil
}

// MetadataField is one top-level field of a remote metadata document, in
// document order.
type MetadataField struct {
	Key   string
	Value json.RawMessage
}

// FetchFileJSON retrieves a metadata file stored inside a remote package
// without downloading the whole archive. An empty constraint requests the
// latest version. The result preserves the document's field order.
func (c *Client) FetchFileJSON(ctx context.Context, id manifest.Identity, constraint, path string) ([]MetadataField, error) {
	addr := c.base + "/download-file/" + url.PathEscape(id.String())
	if constraint == "" {
		addr += "?latest&path=" + url.QueryEscape(path)
	} else {
		v, err := version.Parse(constraint)
		if err != nil {
			return nil, err
		}
		addr += "/" + url.PathEscape(v.String()) + "?path=" + url.QueryEscape(path)
	}

	body, err := c.get(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetwork, err, "decoding response from %s", addr)
	}
	if tok != json.Delim('{') {
		return nil, errors.New(errors.ErrCodeInvalidManifest, "expected JSON object in %s", path)
	}

	var fields []MetadataField
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		fields = append(fields, MetadataField{Key: tok.(string), Value: value})
	}
	return fields, nil
}

// VersionDigest returns the feed-stored SHA-1 digest for an exact package
// version, or PACKAGE_NOT_FOUND if the feed does not know it.
func (c *Client) VersionDigest(ctx context.Context, id manifest.Identity, ver string) (string, error) {
	addr := c.base + "/versions?" + url.Values{
		"group":   {id.Group},
		"name":    {id.Name},
		"version": {ver},
	}.Encode()

	body, err := c.get(ctx, addr)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var remote struct {
		SHA1 string `json:"sha1"`
	}
	if err := json.NewDecoder(body).Decode(&remote); err != nil {
		return "", errors.Wrap(errors.ErrCodeNetwork, err, "decoding response from %s", addr)
	}
	if remote.SHA1 == "" {
		return "", errors.New(errors.ErrCodePackageNotFound, "package %s was not found in feed", id)
	}
	return remote.SHA1, nil
}

// get performs a GET and maps HTTP failure onto the error kinds the rest of
// the system understands.
func (c *Client) get(ctx context.Context, addr string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetwork, err, "GET %s", addr)
	}
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(errors.ErrCodeNetwork, err, "GET %s", addr)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, errors.New(errors.ErrCodePackageNotFound, "GET %s: %s", addr, resp.Status)
	default:
		resp.Body.Close()
		return nil, errors.New(errors.ErrCodeNetwork, "GET %s: %s", addr, resp.Status)
	}
}

func (c *Client) auth(req *http.Request) {
	if c.creds != nil {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}
}
