package sina

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/httputil"
	"github.com/wonny/bullscan/pkg/logger"
)

// Client scrapes company profile pages from Sina Finance
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
}

// NewClient creates a new Sina client
func NewClient(httpClient *httputil.Client, baseURL string, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log.WithComponent("sina"),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Profile fetches name, industry and listing date for code
func (c *Client) Profile(ctx context.Context, code string) (*contracts.Profile, error) {
	fullURL := fmt.Sprintf("%s/corp/go.php/vCI_CorpInfo/stockid/%s.phtml", c.baseURL, code)

	body, err := c.httpClient.GetBytes(ctx, fullURL)
	if err != nil {
		return nil, fmt.Errorf("sina profile %s: %w", code, err)
	}

	profile, err := parseProfile(decodePage(body))
	if err != nil {
		return nil, fmt.Errorf("sina profile %s: %w", code, err)
	}
	profile.Code = code

	c.logger.WithFields(map[string]interface{}{
		"code":     code,
		"industry": profile.Industry,
	}).Debug("Fetched profile")
	return profile, nil
}

// decodePage converts the GBK pages Sina serves; UTF-8 input passes through
func decodePage(body []byte) []byte {
	if utf8.Valid(body) {
		return body
	}
	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return out
}

// parseProfile reads the label/value cells of the #comInfo1 table
func parseProfile(html []byte) (*contracts.Profile, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	table := doc.Find("table#comInfo1")
	if table.Length() == 0 {
		return nil, contracts.ErrNotFound
	}

	p := &contracts.Profile{}
	cells := table.Find("td")
	cells.Each(func(i int, cell *goquery.Selection) {
		label := strings.TrimSpace(cell.Text())
		if !strings.HasSuffix(label, "：") && !strings.HasSuffix(label, ":") {
			return
		}
		label = strings.TrimRight(label, ":：")
		if i+1 >= cells.Length() {
			return
		}
		value := strings.TrimSpace(cells.Eq(i + 1).Text())

		switch {
		case label == "公司名称":
			p.Name = value
		case strings.Contains(label, "行业") && p.Industry == "":
			p.Industry = value
		case label == "上市日期":
			if d, err := time.Parse("2006-01-02", value); err == nil {
				p.ListingDate = d
			}
		}
	})

	if p.Name == "" {
		return nil, contracts.ErrNotFound
	}
	return p, nil
}
