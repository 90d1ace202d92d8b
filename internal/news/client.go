package news

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/RichardoC/newsdigest/internal/metrics"
	"github.com/RichardoC/newsdigest/internal/models"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	everythingPath  = "/v2/everything"
	MaxPageSize     = 5
	removedSentinel = "[Removed]"
)

type Options struct {
	BaseURL    string
	APIKey     string
	PageSize   int
	Lookback   time.Duration
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Client queries the NewsAPI "everything" endpoint.
type Client struct {
	http     *resty.Client
	apiKey   string
	pageSize int
	lookback time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type article struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Author      string    `json:"author"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt"`
	Content     string    `json:"content"`
}

type everythingResponse struct {
	Status       string    `json:"status"`
	TotalResults int       `json:"totalResults"`
	Articles     []article `json:"articles"`
	Code         string    `json:"code"`
	Message      string    `json:"message"`
}

func New(opts Options) *Client {
	if opts.PageSize <= 0 || opts.PageSize > MaxPageSize {
		opts.PageSize = MaxPageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("User-Agent", "newsdigest/1.0").
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(4 * opts.RetryWait).
		AddRetryCondition(isTransient)

	return &Client{
		http:     client,
		apiKey:   opts.APIKey,
		pageSize: opts.PageSize,
		lookback: opts.Lookback,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
}

// isTransient retries transport failures, rate limiting and 5xx answers.
func isTransient(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// Fetch returns up to the configured page size of articles for topic, most
// recent first as ordered upstream. On error the slice is empty, never nil.
func (c *Client) Fetch(ctx context.Context, topic string) ([]models.ArticleSummary, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return []models.ArticleSummary{}, ErrEmptyTopic
	}

	params := map[string]string{
		"q":        topic,
		"sortBy":   "publishedAt",
		"apiKey":   c.apiKey,
		"pageSize": fmt.Sprintf("%d", c.pageSize),
	}
	if c.lookback > 0 {
		params["from"] = c.now().Add(-c.lookback).Format("2006-01-02")
	}

	var result, apiErr everythingResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&result).
		SetError(&apiErr).
		Get(everythingPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return []models.ArticleSummary{}, ctxErr
		}
		c.metrics.ObserveNewsFetch("network_error")
		c.logger.Warn("news request failed", zap.String("topic", topic), zap.Error(err))
		return []models.ArticleSummary{}, &NetworkError{Err: err}
	}

	if resp.IsError() {
		c.metrics.ObserveNewsFetch("upstream_error")
		upstreamErr := &UpstreamHTTPError{StatusCode: resp.StatusCode(), Code: apiErr.Code, Message: apiErr.Message}
		if upstreamErr.Message == "" {
			upstreamErr.Message = resp.Status()
		}
		c.logger.Warn("news upstream error",
			zap.String("topic", topic),
			zap.Int("status", resp.StatusCode()),
			zap.String("body", truncate(resp.String(), 256)))
		return []models.ArticleSummary{}, upstreamErr
	}

	if result.Status != "" && result.Status != "ok" {
		c.metrics.ObserveNewsFetch("upstream_error")
		return []models.ArticleSummary{}, &UpstreamHTTPError{
			StatusCode: resp.StatusCode(),
			Code:       result.Code,
			Message:    result.Message,
		}
	}

	summaries := make([]models.ArticleSummary, 0, c.pageSize)
	for _, a := range result.Articles {
		if len(summaries) == c.pageSize {
			break
		}
		if !usable(a) {
			continue
		}
		summaries = append(summaries, models.ArticleSummary{
			Source:      a.Source.Name,
			Author:      a.Author,
			Title:       a.Title,
			Description: a.Description,
			URL:         a.URL,
			PublishedAt: a.PublishedAt,
		})
	}

	c.metrics.ObserveNewsFetch("ok")
	c.logger.Debug("fetched news",
		zap.String("topic", topic),
		zap.Int("total_results", result.TotalResults),
		zap.Int("returned", len(summaries)))
	return summaries, nil
}

func usable(a article) bool {
	title := strings.TrimSpace(a.Title)
	url := strings.TrimSpace(a.URL)
	return title != "" && url != "" && title != removedSentinel
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
