package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RichardoC/newsdigest/internal/models"
	"github.com/RichardoC/newsdigest/internal/news"
	"github.com/invopop/jsonschema"
	"go.uber.org/zap"
)

const NewsToolName = "get_news"

type NewsInput struct {
	Topic string `json:"topic" jsonschema_description:"The topic for the news, e.g. bitcoin"`
}

var NewsInputSchema = GenerateSchema[NewsInput]()

// NewsFetcher is the search side of the news tool.
type NewsFetcher interface {
	Fetch(ctx context.Context, topic string) ([]models.ArticleSummary, error)
}

// NewsTool answers get_news calls with the formatted articles concatenated
// into one blob. Upstream and network failures degrade to an empty output.
type NewsTool struct {
	fetcher NewsFetcher
	logger  *zap.Logger
}

func NewNewsTool(fetcher NewsFetcher, logger *zap.Logger) *NewsTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NewsTool{fetcher: fetcher, logger: logger}
}

func (t *NewsTool) Name() string { return NewsToolName }

func (t *NewsTool) Description() string {
	return "Get the list of articles/news for the given topic"
}

func (t *NewsTool) Schema() *jsonschema.Schema { return NewsInputSchema }

func (t *NewsTool) Call(ctx context.Context, input string) (string, error) {
	var in NewsInput
	if err := json.Unmarshal([]byte(input), &in); err != nil {
		return "", fmt.Errorf("invalid %s arguments: %w", NewsToolName, err)
	}
	if strings.TrimSpace(in.Topic) == "" {
		return "", fmt.Errorf("invalid %s arguments: topic is required", NewsToolName)
	}

	articles, err := t.fetcher.Fetch(ctx, in.Topic)
	if err != nil {
		if !news.IsDegradable(err) {
			return "", err
		}
		t.logger.Warn("news unavailable, answering with no articles",
			zap.String("topic", in.Topic),
			zap.Error(err))
		return "", nil
	}

	var b strings.Builder
	for _, a := range articles {
		b.WriteString(a.Format())
	}
	return b.String(), nil
}
