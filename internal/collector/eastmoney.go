package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"FundTracker/internal/model"
)

const (
	DefaultBaseURL   = "https://fundgz.1234567.com.cn"
	DefaultTimeout   = 5 * time.Second
	DefaultRateLimit = 10 // requests per second

	// maxBodyBytes caps how much of an oracle response is read. Real
	// responses are a few hundred bytes.
	maxBodyBytes = 64 << 10
)

// jsonpPattern extracts the payload of `jsonpgz({...});`.
var jsonpPattern = regexp.MustCompile(`(?s)jsonpgz\((.*)\)`)

// EastMoneyFetcher implements Fetcher against the Tiantian fund estimate feed.
type EastMoneyFetcher struct {
	BaseURL string
	Client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
	now     func() time.Time
}

// NewEastMoneyFetcher creates a fetcher with optional proxy support.
func NewEastMoneyFetcher(baseURL, proxyURL string, timeout time.Duration, perSecond float64, log zerolog.Logger) *EastMoneyFetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if perSecond <= 0 {
		perSecond = DefaultRateLimit
	}
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &EastMoneyFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1),
		log:     log,
		now:     time.Now,
	}
}

func (f *EastMoneyFetcher) Name() string { return "eastmoney" }

// rawEstimate is the JSON shape inside the JSONP wrapper. Every field is a string.
type rawEstimate struct {
	FundCode string `json:"fundcode"`
	Name     string `json:"name"`
	NAVDate  string `json:"jzrq"`
	PrevNAV  string `json:"dwjz"`
	Estimate string `json:"gsz"`
	Change   string `json:"gszzl"`
	Time     string `json:"gztime"`
}

// Wait blocks until the rate limiter admits another request.
func (f *EastMoneyFetcher) Wait(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Fetch requests a live estimate for code. It does not wait on the rate
// limiter; Collector calls Wait first. The rt query parameter and the
// no-cache headers keep intermediaries from serving a stale body.
func (f *EastMoneyFetcher) Fetch(ctx context.Context, code string) (*model.ValuationEstimate, error) {
	now := f.now()
	u := fmt.Sprintf("%s/js/%s.js?rt=%s", f.BaseURL, url.PathEscape(code), strconv.FormatInt(now.UnixMilli(), 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Referer", "https://fund.eastmoney.com/")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	f.log.Debug().Str("code", code).Str("url", u).Msg("oracle request")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: eastmoney fetch %s: %v", ErrNoEstimate, code, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: eastmoney read body: %v", ErrNoEstimate, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: eastmoney: status %d", ErrNoEstimate, resp.StatusCode)
	}

	est, err := ParseEstimate(body)
	if err != nil {
		f.log.Debug().Str("code", code).Str("body", truncate(string(body), 200)).Msg("unparseable oracle body")
		return nil, err
	}
	est.FetchedAt = now
	return est, nil
}

// ParseEstimate extracts and decodes the JSONP payload of an oracle response.
func ParseEstimate(body []byte) (*model.ValuationEstimate, error) {
	m := jsonpPattern.FindSubmatch(body)
	if m == nil {
		return nil, fmt.Errorf("%w: jsonpgz wrapper not found", ErrNoEstimate)
	}
	payload := strings.TrimSpace(string(m[1]))
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrNoEstimate)
	}

	var raw rawEstimate
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrNoEstimate, err)
	}

	gsz, err := decimal.NewFromString(strings.TrimSpace(raw.Estimate))
	if err != nil {
		return nil, fmt.Errorf("%w: gsz %q: %v", ErrNoEstimate, raw.Estimate, err)
	}
	gszzl, err := decimal.NewFromString(strings.TrimSpace(raw.Change))
	if err != nil {
		return nil, fmt.Errorf("%w: gszzl %q: %v", ErrNoEstimate, raw.Change, err)
	}
	dwjz := decimal.Zero
	if s := strings.TrimSpace(raw.PrevNAV); s != "" {
		if dwjz, err = decimal.NewFromString(s); err != nil {
			return nil, fmt.Errorf("%w: dwjz %q: %v", ErrNoEstimate, raw.PrevNAV, err)
		}
	}

	return &model.ValuationEstimate{
		Code:          raw.FundCode,
		Name:          raw.Name,
		NAVDate:       raw.NAVDate,
		PrevNAV:       dwjz,
		EstimatedNAV:  gsz,
		ChangePercent: gszzl,
		EstimatedAt:   raw.Time,
	}, nil
}

// truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
