package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/net/html"
)

const maxPageSize = 10 << 20

var ErrNoPage = errors.New("no page loaded")

// StaticRenderer fetches a page over HTTP and evaluates selector chains
// against the parsed HTML. It runs no JavaScript, so it only sees what the
// server sends, which for most sites includes the og: meta tags.
type StaticRenderer struct {
	mu        sync.Mutex
	client    *http.Client
	userAgent string
	bindings  map[string]BridgeFunc
	doc       *html.Node
	base      *url.URL
	logger    *slog.Logger
}

// NewStaticRenderer creates a renderer using client
func NewStaticRenderer(client *http.Client, userAgent string, logger *slog.Logger) *StaticRenderer {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StaticRenderer{
		client:    client,
		userAgent: userAgent,
		bindings:  make(map[string]BridgeFunc),
		logger:    logger,
	}
}

// Bind implements Renderer
func (r *StaticRenderer) Bind(name string, fn BridgeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[name] = fn
	return nil
}

// LoadURL implements Renderer
func (r *StaticRenderer) LoadURL(ctx context.Context, pageURL string, onPageFinished func(err error)) error {
	base, err := url.Parse(pageURL)
	if err != nil {
		return fmt.Errorf("invalid page url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	r.mu.Lock()
	r.doc, r.base = nil, nil
	r.mu.Unlock()

	go func() {
		doc, err := r.fetch(req)
		if err == nil {
			r.mu.Lock()
			r.doc, r.base = doc, base
			r.mu.Unlock()
			r.logger.Debug("page loaded", "url", pageURL)
		}
		onPageFinished(err)
	}()
	return nil
}

func (r *StaticRenderer) fetch(req *http.Request) (*html.Node, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return doc, nil
}

// EvaluateScript implements Renderer by walking the script's selector chain
// in Go. The bridge is invoked asynchronously, as a page script would.
func (r *StaticRenderer) EvaluateScript(ctx context.Context, script *Script) error {
	r.mu.Lock()
	doc, base := r.doc, r.base
	fn := r.bindings[script.Bridge]
	r.mu.Unlock()

	if doc == nil {
		return ErrNoPage
	}
	if fn == nil {
		return fmt.Errorf("no bridge bound as %q", script.Bridge)
	}

	args := withToken(evaluateChain(doc, base, script.Chain), script.Token)
	go fn(args)
	return nil
}

// Close implements Renderer
func (r *StaticRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = nil
	return nil
}

// evaluateChain returns one value per chain field, nil when nothing matched
func evaluateChain(doc *html.Node, base *url.URL, chain *Chain) []*string {
	fields := chain.fields()
	out := make([]*string, len(fields))
	for i, f := range fields {
		for _, sel := range *f.selectors {
			parsed, err := parseSelector(sel.CSS)
			if err != nil {
				continue
			}
			n := querySelector(doc, parsed)
			if n == nil {
				continue
			}
			if v := sel.apply(readValue(n, sel.Attr, base)); v != "" {
				out[i] = &v
				break
			}
		}
	}
	return out
}
