// Package discover finds ad-related domains by loading YouTube pages in a
// headless browser and watching the requests they make.
package discover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/idna"

	"github.com/miguelmartens/opgecanceld-blocklist/internal/blocklist"
)

const homeURL = "https://www.youtube.com"

// DefaultAdPatterns are host substrings that mark a request as ad-related.
var DefaultAdPatterns = []string{
	"googlevideo", "doubleclick", "googlesyndication", "googleadservices",
	"innovid", "moatads", "fwmrm", "adform", "serving-sys", "tubemogul",
	"2mdn", "imasdk", "googleadapis", "adservice", "ads.youtube", "ad.youtube",
}

// DefaultVideoURLs are popular videos that reliably serve ads. The trending
// feed is left out: it keeps loading forever in headless mode.
var DefaultVideoURLs = []string{
	"https://www.youtube.com/watch?v=9bZkp7q19f0",
	"https://www.youtube.com/watch?v=kJQP7kiw5Fk",
	"https://www.youtube.com/watch?v=RgKAFK5djSk",
	"https://www.youtube.com/watch?v=OPf0YbXqDm0",
	"https://www.youtube.com/watch?v=09R8_2nJtjg",
	"https://www.youtube.com/watch?v=JGwWNGJdvx8",
	"https://www.youtube.com/watch?v=kxopViU98Xo",
	"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
}

type Config struct {
	DurationPerVideo time.Duration `yaml:"duration_per_video"`
	PageTimeout      time.Duration `yaml:"page_timeout"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	VideoURLs        []string      `yaml:"video_urls"`
	AdPatterns       []string      `yaml:"ad_patterns"`
	ChromePath       string        `yaml:"chrome_path"`
}

func DefaultConfig() Config {
	return Config{
		DurationPerVideo: time.Minute,
		PageTimeout:      30 * time.Second,
		SettleDelay:      5 * time.Second,
		VideoURLs:        DefaultVideoURLs,
		AdPatterns:       DefaultAdPatterns,
	}
}

// Client captures ad-related request hosts that are not yet blocked.
type Client struct {
	config   Config
	existing blocklist.Set
	logger   *slog.Logger

	mu      sync.Mutex
	current string
	found   map[string]string
}

// NewClient fills zero fields of cfg from DefaultConfig.
func NewClient(cfg Config, existing blocklist.Set, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.DurationPerVideo <= 0 {
		cfg.DurationPerVideo = def.DurationPerVideo
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = def.PageTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if len(cfg.VideoURLs) == 0 {
		cfg.VideoURLs = def.VideoURLs
	}
	if len(cfg.AdPatterns) == 0 {
		cfg.AdPatterns = def.AdPatterns
	}
	if existing == nil {
		existing = blocklist.Set{}
	}

	return &Client{
		config:   cfg,
		existing: existing,
		logger:   logger,
		found:    make(map[string]string),
	}
}

// Run loads the YouTube home page and every configured video, capturing
// traffic for DurationPerVideo on each. A failing video is skipped. When ctx
// is cancelled mid-run, the domains found so far are returned.
func (c *Client) Run(ctx context.Context) ([]string, error) {
	browser, cleanup, err := c.launch(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("creating page: %w", err)
	}
	defer page.Close()

	router := page.HijackRequests()
	router.MustAdd("*", c.handleRequest)
	go router.Run()
	defer stopRouter(router, c.logger)

	c.logger.Info("loading youtube", slog.String("url", homeURL))
	if err := c.visit(ctx, page, homeURL, 0); err != nil {
		if ctx.Err() != nil {
			c.logger.Warn("discovery interrupted", slog.String("error", ctx.Err().Error()))
			return c.Domains(), nil
		}
		return nil, fmt.Errorf("loading %s: %w", homeURL, err)
	}

	n := len(c.config.VideoURLs)
	for i, videoURL := range c.config.VideoURLs {
		label := shortVideoLabel(videoURL)
		c.logger.Info("visiting video", slog.Int("index", i+1), slog.Int("total", n), slog.String("video", label))

		if err := c.visit(ctx, page, videoURL, c.config.DurationPerVideo); err != nil {
			if ctx.Err() != nil {
				c.logger.Warn("discovery interrupted", slog.String("error", ctx.Err().Error()))
				break
			}
			c.logger.Warn("video failed, continuing", slog.String("video", label), slog.String("error", err.Error()))
			continue
		}

		c.logger.Info("video done", slog.String("video", label), slog.Int("domains", c.count()))
	}

	result := c.Domains()
	c.logger.Info("discovery finished", slog.Int("domains", len(result)))
	return result, nil
}

type stopper interface {
	Stop() error
}

// stopRouter stops request hijacking. After cancellation the browser
// connection is already gone, so the error is only logged.
func stopRouter(r stopper, logger *slog.Logger) {
	if err := r.Stop(); err != nil {
		logger.Debug("stopping hijack router", slog.String("error", err.Error()))
	}
}

func (c *Client) launch(ctx context.Context) (*rod.Browser, func(), error) {
	path := c.config.ChromePath
	if path == "" {
		path = os.Getenv("CHROME_PATH")
	}
	if path == "" {
		var found bool
		path, found = launcher.LookPath()
		if !found {
			return nil, nil, errors.New("browser not found")
		}
	}

	l := launcher.New().
		Context(ctx).
		Bin(path).
		Headless(true).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-setuid-sandbox").
		Set("disable-breakpad").
		Set("disable-crash-reporter").
		Set("no-first-run").
		Set("mute-audio")

	c.logger.Info("launching browser", slog.String("bin", path))
	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("launching browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("connecting to browser: %w", err)
	}

	cleanup := func() {
		if err := browser.Close(); err != nil {
			c.logger.Debug("closing browser", slog.String("error", err.Error()))
		}
		l.Kill()
	}
	return browser, cleanup, nil
}

func (c *Client) visit(ctx context.Context, page *rod.Page, pageURL string, capture time.Duration) error {
	c.mu.Lock()
	c.current = pageURL
	c.mu.Unlock()

	if err := page.Timeout(c.config.PageTimeout).Navigate(pageURL); err != nil {
		return fmt.Errorf("navigation: %w", err)
	}

	return wait(ctx, c.config.SettleDelay+capture)
}

func (c *Client) handleRequest(h *rod.Hijack) {
	c.observe(h.Request.URL().String())
	h.ContinueRequest(&proto.FetchContinueRequest{})
}

// observe records the host of reqURL if it is ad-related and not already
// blocked.
func (c *Client) observe(reqURL string) {
	host := extractHost(reqURL)
	if host == "" || !isAdRelated(host, c.config.AdPatterns) || c.existing.Contains(host) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.found[host]; ok {
		return
	}
	c.found[host] = c.current
	c.logger.Debug("ad domain found", slog.String("host", host), slog.String("page", c.current))
}

// Domains returns the hosts found so far, sorted.
func (c *Client) Domains() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]string, 0, len(c.found))
	for d := range c.found {
		result = append(result, d)
	}
	sort.Strings(result)
	return result
}

// Findings maps each found host to the page that was loading when it was
// first requested.
func (c *Client) Findings() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string, len(c.found))
	for k, v := range c.found {
		out[k] = v
	}
	return out
}

func (c *Client) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.found)
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shortVideoLabel(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	if q := parsed.Query().Get("v"); q != "" {
		return "v=" + q
	}
	return parsed.Path
}

func extractHost(rawURL string) string {
	host := rawURL
	if idx := strings.Index(host, "://"); idx != -1 {
		host = host[idx+3:]
	}
	if idx := strings.IndexAny(host, "/?#"); idx != -1 {
		host = host[:idx]
	}
	if idx := strings.LastIndexByte(host, '@'); idx != -1 {
		host = host[idx+1:]
	}
	if strings.HasPrefix(host, "[") {
		// IPv6 literals are never ad domains
		return ""
	}
	if idx := strings.IndexByte(host, ':'); idx != -1 {
		host = host[:idx]
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return ""
	}

	if !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return ""
		}
		host = ascii
	}
	return strings.ToLower(host)
}

func isAdRelated(host string, patterns []string) bool {
	host = strings.ToLower(host)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(host, p) {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
