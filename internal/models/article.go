package models

import (
	"fmt"
	"time"
)

// ArticleSummary is one news result reduced to the fields handed to the assistant.
type ArticleSummary struct {
	Source      string    `json:"source"`
	Author      string    `json:"author"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// Format renders the article as the display block fed back as tool output.
func (a ArticleSummary) Format() string {
	return fmt.Sprintf("Title:%s\nAuthor:%s\nSource:%s\nDescription:%s\nURL:%s\n\n",
		a.Title, a.Author, a.Source, a.Description, a.URL)
}
