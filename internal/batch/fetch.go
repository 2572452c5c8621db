package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrRefNotAllowed is returned for audio references outside the configured sources
var ErrRefNotAllowed = errors.New("audio reference not allowed")

// Fetcher downloads an audio reference to a local file
type Fetcher interface {
	Fetch(ctx context.Context, ref, dst string) error
}

// RefFetcher resolves audio references against two configured sources: http(s)
// URLs on BaseURL's host, and paths relative to BaseURL or, when no BaseURL is
// set, to Root. Absolute paths, file:// URLs and references escaping Root are refused.
type RefFetcher struct {
	BaseURL    string
	Root       string
	httpClient *http.Client
}

// NewRefFetcher creates a fetcher
func NewRefFetcher(baseURL, root string, timeout time.Duration) *RefFetcher {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	f := &RefFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Root:    root,
	}
	f.httpClient = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return f.checkHost(req.URL)
		},
	}
	return f
}

// Fetch copies the referenced audio to dst, replacing any previous content
func (f *RefFetcher) Fetch(ctx context.Context, ref, dst string) error {
	if ref == "" {
		return fmt.Errorf("empty audio reference")
	}

	u, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRefNotAllowed, err)
	}

	switch u.Scheme {
	case "http", "https":
		if err := f.checkHost(u); err != nil {
			return err
		}
		return f.download(ctx, ref, dst)
	case "":
	default:
		return fmt.Errorf("%w: scheme %q", ErrRefNotAllowed, u.Scheme)
	}

	if filepath.IsAbs(ref) || strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, `\`) {
		return fmt.Errorf("%w: absolute path %q", ErrRefNotAllowed, ref)
	}
	if !filepath.IsLocal(filepath.FromSlash(ref)) {
		return fmt.Errorf("%w: %q escapes the audio source", ErrRefNotAllowed, ref)
	}

	if f.BaseURL != "" {
		return f.download(ctx, f.BaseURL+"/"+path.Clean(ref), dst)
	}
	if f.Root == "" {
		return fmt.Errorf("%w: no audio root configured for %q", ErrRefNotAllowed, ref)
	}

	// OpenInRoot also refuses symlinks that lead outside Root
	in, err := os.OpenInRoot(f.Root, filepath.FromSlash(ref))
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	defer in.Close()
	return writeFile(dst, in)
}

// checkHost accepts only URLs on the configured base URL's scheme and host
func (f *RefFetcher) checkHost(u *url.URL) error {
	if f.BaseURL == "" {
		return fmt.Errorf("%w: no audio base URL configured for %s", ErrRefNotAllowed, u.Redacted())
	}
	base, err := url.Parse(f.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: invalid base URL: %v", ErrRefNotAllowed, err)
	}
	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return fmt.Errorf("%w: host %q", ErrRefNotAllowed, u.Host)
	}
	return nil
}

func (f *RefFetcher) download(ctx context.Context, rawURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	return writeFile(dst, resp.Body)
}

func writeFile(dst string, r io.Reader) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write scratch file: %w", err)
	}
	return out.Close()
}
