package digest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// RiskUnknown is reported when a best practice's risk cannot be found.
const RiskUnknown = "N/A"

const riskMarker = "Level of risk exposed if this best"

var pillarPaths = map[string]string{
	"costOptimization":      "cost-optimization-pillar",
	"security":              "security-pillar",
	"reliability":           "reliability-pillar",
	"operationalExcellence": "operational-excellence-pillar",
	"performance":           "performance-efficiency-pillar",
	"sustainability":        "sustainability-pillar",
}

// PillarPath returns the documentation path of a pillar.
func PillarPath(pillarID string) (string, bool) {
	p, ok := pillarPaths[pillarID]
	return p, ok
}

// BestPracticeURL returns the documentation page of a best practice, or ""
// for an unknown pillar.
func BestPracticeURL(baseURL, pillarID, choiceID string) string {
	p, ok := PillarPath(pillarID)
	if !ok || baseURL == "" || choiceID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s.html", strings.TrimRight(baseURL, "/"), p, choiceID)
}

// RiskLookup resolves the level of risk of leaving a best practice
// unimplemented.
type RiskLookup interface {
	Risk(ctx context.Context, pillarID, choiceID string) string
}

// DocsRisk reads the risk level from the published best practice pages.
type DocsRisk struct {
	BaseURL string
	Client  *http.Client

	mu    sync.Mutex
	cache map[string]string
}

// NewDocsRisk creates a lookup against the documentation at baseURL.
func NewDocsRisk(baseURL string) *DocsRisk {
	return &DocsRisk{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
		cache:   make(map[string]string),
	}
}

// Risk implements RiskLookup. Any failure yields RiskUnknown.
func (d *DocsRisk) Risk(ctx context.Context, pillarID, choiceID string) string {
	url := BestPracticeURL(d.BaseURL, pillarID, choiceID)
	if url == "" {
		return RiskUnknown
	}

	d.mu.Lock()
	if v, ok := d.cache[url]; ok {
		d.mu.Unlock()
		return v
	}
	d.mu.Unlock()

	risk, err := d.fetch(ctx, url)
	if err != nil {
		log.Debug().Ctx(ctx).Err(err).Str("url", url).Msg("risk lookup failed")
		return RiskUnknown
	}

	d.mu.Lock()
	if d.cache == nil {
		d.cache = make(map[string]string)
	}
	d.cache[url] = risk
	d.mu.Unlock()
	return risk
}

func (d *DocsRisk) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get %s: %s", url, resp.Status)
	}
	return parseRisk(resp.Body)
}

// parseRisk finds the paragraph stating the risk level and returns the text
// after its colon.
func parseRisk(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var risk string
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "p" {
			text := nodeText(n)
			if i := strings.Index(text, riskMarker); i >= 0 {
				if _, after, ok := strings.Cut(text[i:], ":"); ok {
					risk = strings.TrimSpace(after)
				}
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)

	if risk == "" {
		return RiskUnknown, nil
	}
	return risk, nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
