// Package artifacts lists and downloads build artifacts from a
// Jenkins server, for feeding freshly built packages into the cache
// tree.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
)

// Client talks to the Jenkins JSON API of one build server.
type Client struct {
	base    string
	workers int
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithWorkers sets the number of parallel download workers.
func WithWorkers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// NewClient creates a client for the Jenkins instance at base, e.g.
// "https://builds.example.org/jenkins".
func NewClient(base string, opts ...Option) *Client {
	c := &Client{
		base:    base,
		workers: 4,
		client:  newHTTPClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newHTTPClient builds a client that resolves the build server once
// per refresh interval instead of on every artifact request.
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
		Timeout: 5 * time.Minute,
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
				for _, ip := range ips {
					conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
					if err == nil {
						return conn, nil
					}
				}
				return nil, fmt.Errorf("no resolved address for %s is reachable", host)
			},
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

type buildInfo struct {
	Artifacts []struct {
		RelativePath string `json:"relativePath"`
	} `json:"artifacts"`
}

// ListArtifacts returns the download URLs of the last successful
// build's artifacts whose relative paths match any of the shell-style
// glob patterns. Malformed patterns fail before the server is asked.
func (c *Client) ListArtifacts(ctx context.Context, job string, patterns []string) ([]string, error) {
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("artifact pattern %q: %w", p, err)
		}
	}

	buildURL := fmt.Sprintf("%s/job/%s/lastSuccessfulBuild", c.base, url.PathEscape(job))
	var info buildInfo
	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, buildURL+"/api/json", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("job %s: HTTP %d", job, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		info = buildInfo{}
		return json.NewDecoder(resp.Body).Decode(&info)
	})
	if err != nil {
		return nil, err
	}

	var urls []string
	for _, a := range info.Artifacts {
		for _, p := range patterns {
			if ok, _ := path.Match(p, a.RelativePath); ok {
				urls = append(urls, buildURL+"/artifact/"+a.RelativePath)
				break
			}
		}
	}
	return urls, nil
}

// Result reports one artifact download.
type Result struct {
	URL  string
	Dest string
	Err  error
}

// Fetch downloads the artifacts into destDir in parallel. Artifacts
// already present are skipped. Every download is reported in the
// results; order follows completion, not the input.
func (c *Client) Fetch(ctx context.Context, urls []string, destDir string) []Result {
	if err := os.MkdirAll(destDir, 0o775); err != nil {
		results := make([]Result, len(urls))
		for i, u := range urls {
			results[i] = Result{URL: u, Err: err}
		}
		return results
	}

	jobs := make(chan string, len(urls))
	out := make(chan Result, len(urls))

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range jobs {
				dest := filepath.Join(destDir, path.Base(u))
				out <- Result{URL: u, Dest: dest, Err: c.fetchOne(ctx, u, dest)}
			}
		}()
	}
	for _, u := range urls {
		jobs <- u
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]Result, 0, len(urls))
	for r := range out {
		results = append(results, r)
	}
	return results
}

func (c *Client) fetchOne(ctx context.Context, u, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	return c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("downloading %s: HTTP %d", u, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		tmp := dest + ".tmp"
		out, err := os.Create(tmp)
		if err != nil {
			return backoff.Permanent(err)
		}
		if _, err := io.Copy(out, resp.Body); err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
		if err := out.Close(); err != nil {
			os.Remove(tmp)
			return err
		}
		if err := os.Rename(tmp, dest); err != nil {
			os.Remove(tmp)
			return backoff.Permanent(err)
		}
		return nil
	})
}

func (c *Client) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx))
}
