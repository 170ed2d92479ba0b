package models

import "time"

// Post is one item fetched from the Content Source. It is never mutated after fetch.
type Post struct {
	ID          string    `json:"id"`
	Subreddit   string    `json:"subreddit"`
	Author      string    `json:"author"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	CreatedUTC  time.Time `json:"created_utc"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
	URL         string    `json:"url"`
}

// OlderThan reports whether the post was created more than maxAgeDays before now.
func (p Post) OlderThan(maxAgeDays int, now time.Time) bool {
	return p.CreatedUTC.Before(now.Add(-time.Duration(maxAgeDays) * 24 * time.Hour))
}
