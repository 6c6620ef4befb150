package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/brensch/harvest/internal/message"
	"github.com/brensch/harvest/internal/util"
)

// Listing scrapes static directory-index pages: one Directory message
// for the page itself, a Url message per file link, and a Queue message
// per subdirectory link so nested listings spawn child jobs.
type Listing struct {
	Base
	client  *http.Client
	msgs    []*message.Message
	idx     int
	pending int // Skip requests received before the page was fetched
	fetched bool
}

func init() {
	Register(`^listing:`, NewListing)
	Register(`^https?://[^?#]+/$`, NewListing)
}

// NewListing builds a Listing for a directory-index URL. The optional
// "listing:" prefix forces this extractor for pages whose URL does not
// end in a slash.
func NewListing(rawURL string) (Extractor, error) {
	src := strings.TrimPrefix(rawURL, "listing:")
	u, err := url.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse listing url %q: %w", src, err)
	}
	sub := strings.Trim(u.Path, "/")
	if sub == "" {
		sub = u.Host
	}
	return &Listing{
		Base: Base{
			Source:     src,
			Cat:        "listing",
			Sub:        sub,
			ArchiveKey: "{{.title}}_{{.filename}}.{{.extension}}",
			FileTmpl:   "{{.filename}}.{{.extension}}",
			DirTmpl:    "{{.title}}",
		},
		client: util.DefaultHTTPClient(),
	}, nil
}

func (l *Listing) Next(ctx context.Context) (*message.Message, error) {
	if !l.fetched {
		if err := l.fetch(ctx); err != nil {
			return nil, err
		}
		l.fetched = true
	}
	if l.idx >= len(l.msgs) {
		return nil, io.EOF
	}
	msg := l.msgs[l.idx]
	l.idx++
	return msg, nil
}

// Skip drops the next n file links. Before the page is fetched the
// request is buffered and applied while building the stream.
func (l *Listing) Skip(n int) int {
	if !l.fetched {
		l.pending += n
		return n
	}
	skipped := 0
	for l.idx < len(l.msgs) && skipped < n {
		if l.msgs[l.idx].Kind == message.KindURL {
			skipped++
		}
		l.idx++
	}
	return skipped
}

func (l *Listing) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.Source, nil)
	if err != nil {
		return fmt.Errorf("create request %s: %w", l.Source, err)
	}
	req.Header.Set("User-Agent", util.RandomUserAgent())

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch listing %s: %w", l.Source, err)
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch listing %s: status %s", l.Source, resp.Status)
	}
	if readErr != nil {
		return fmt.Errorf("read listing %s: %w", l.Source, readErr)
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse listing %s: %w", l.Source, err)
	}
	base, err := url.Parse(l.Source)
	if err != nil {
		return fmt.Errorf("parse base url %s: %w", l.Source, err)
	}

	title := strings.Trim(base.Path, "/")
	if title == "" {
		title = base.Host
	}
	title = path.Base(title)

	l.msgs = append(l.msgs, message.Directory(message.Metadata{"title": title}))

	num := 0
	for _, link := range util.ParseLinks(root) {
		ref, err := base.Parse(link.Href)
		if err != nil {
			continue
		}
		abs := ref.String()

		// Parent directory entries would make the walk cycle.
		if !strings.HasPrefix(abs, l.Source) || abs == l.Source {
			continue
		}

		if strings.HasSuffix(ref.Path, "/") {
			l.msgs = append(l.msgs, message.Queue(abs, message.Metadata{
				"title": title,
			}))
			continue
		}

		num++
		if l.pending > 0 {
			l.pending--
			continue
		}
		name := path.Base(ref.Path)
		ext := strings.TrimPrefix(path.Ext(name), ".")
		l.msgs = append(l.msgs, message.URL(abs, message.Metadata{
			"title":     title,
			"filename":  strings.TrimSuffix(name, path.Ext(name)),
			"extension": ext,
			"num":       num,
		}))
	}
	return nil
}
