package slackapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const maxSearchCount = 100

// SearchResult is one page of search.messages.
type SearchResult struct {
	Matches []map[string]any
	Page    int
	Pages   int
	Total   int
}

// HasMore reports whether another page exists after this one.
func (r SearchResult) HasMore() bool {
	return r.Page < r.Pages
}

type searchResponse struct {
	Messages struct {
		Matches []map[string]any `json:"matches"`
		Paging  struct {
			Count int `json:"count"`
			Total int `json:"total"`
			Page  int `json:"page"`
			Pages int `json:"pages"`
		} `json:"paging"`
	} `json:"messages"`
}

// SearchMessages runs search.messages with the user token, newest first.
func (c *Client) SearchMessages(ctx context.Context, query string, count, page int) (SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResult{}, fmt.Errorf("search query is required")
	}
	if c == nil {
		return SearchResult{}, fmt.Errorf("slack api is not initialized")
	}
	if count <= 0 || count > maxSearchCount {
		count = maxSearchCount
	}
	if page <= 0 {
		page = 1
	}
	form := url.Values{}
	form.Set("query", query)
	form.Set("count", strconv.Itoa(count))
	form.Set("page", strconv.Itoa(page))
	form.Set("sort", "timestamp")
	form.Set("sort_dir", "desc")

	body, status, _, err := c.postAuthForm(ctx, c.userToken, "/search.messages", form)
	if err != nil {
		return SearchResult{}, err
	}
	var out searchResponse
	if err := decode("search.messages", body, status, &out); err != nil {
		return SearchResult{}, err
	}
	res := SearchResult{
		Matches: out.Messages.Matches,
		Page:    out.Messages.Paging.Page,
		Pages:   out.Messages.Paging.Pages,
		Total:   out.Messages.Paging.Total,
	}
	if res.Page <= 0 {
		res.Page = page
	}
	if res.Pages <= 0 {
		res.Pages = 1
	}
	return res, nil
}
