// This file defines the content the posts scan works on.

package models

import "time"

// Post statuses.
const (
	PostStatusPublish = "publish"
	PostStatusDraft   = "draft"
)

// Post is a single piece of content. Only published posts are scanned.
type Post struct {
	ID        int64     `json:"id"`
	PostType  string    `json:"post_type"`
	Status    string    `json:"status"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

