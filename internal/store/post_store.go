package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vrsandeep/postscan/internal/models"
)

// CreatePost inserts a post and returns it with its new ID.
func (s *Store) CreatePost(ctx context.Context, postType, status, title string) (*models.Post, error) {
	if postType == "" {
		postType = "post"
	}
	if status == "" {
		status = models.PostStatusPublish
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO posts (post_type, status, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		postType, status, title, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Post{ID: id, PostType: postType, Status: status, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetPost(ctx context.Context, id int64) (*models.Post, error) {
	var p models.Post
	err := s.db.QueryRowContext(ctx,
		"SELECT id, post_type, status, title, created_at, updated_at FROM posts WHERE id = ?", id).
		Scan(&p.ID, &p.PostType, &p.Status, &p.Title, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPosts returns posts of the given types ordered by ID. An empty
// postTypes slice lists every post.
func (s *Store) ListPosts(ctx context.Context, postTypes []string) ([]*models.Post, error) {
	query := "SELECT id, post_type, status, title, created_at, updated_at FROM posts"
	var args []interface{}
	if len(postTypes) > 0 {
		query += " WHERE post_type IN (" + placeholders(len(postTypes)) + ")"
		args = stringArgs(postTypes)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.ID, &p.PostType, &p.Status, &p.Title, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, &p)
	}
	return posts, rows.Err()
}

// PublishedPostIDs returns the IDs of published posts whose type is in
// postTypes, ascending.
func (s *Store) PublishedPostIDs(ctx context.Context, postTypes []string) ([]int64, error) {
	if len(postTypes) == 0 {
		return nil, nil
	}
	query := "SELECT id FROM posts WHERE status = ? AND post_type IN (" + placeholders(len(postTypes)) + ") ORDER BY id ASC"
	args := append([]interface{}{models.PostStatusPublish}, stringArgs(postTypes)...)
	return s.queryIDs(ctx, query, args...)
}

// UnscannedPostIDs returns the published posts of postTypes whose metaKey
// stamp is missing or older than since.
func (s *Store) UnscannedPostIDs(ctx context.Context, postTypes []string, metaKey string, since time.Time) ([]int64, error) {
	if len(postTypes) == 0 {
		return nil, nil
	}
	query := `
		SELECT p.id FROM posts p
		LEFT JOIN post_meta m ON m.post_id = p.id AND m.meta_key = ?
		WHERE p.status = ? AND p.post_type IN (` + placeholders(len(postTypes)) + `)
		  AND (m.meta_value IS NULL OR CAST(m.meta_value AS INTEGER) < ?)
		ORDER BY p.id ASC`
	args := append([]interface{}{metaKey, models.PostStatusPublish}, stringArgs(postTypes)...)
	args = append(args, since.Unix())
	return s.queryIDs(ctx, query, args...)
}

// UpdatePostMeta sets a metadata value on a post, replacing any previous one.
func (s *Store) UpdatePostMeta(ctx context.Context, postID int64, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO post_meta (post_id, meta_key, meta_value) VALUES (?, ?, ?)
		ON CONFLICT(post_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value`,
		postID, key, value)
	return err
}

// GetPostMeta returns a metadata value and whether it exists.
func (s *Store) GetPostMeta(ctx context.Context, postID int64, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT meta_value FROM post_meta WHERE post_id = ? AND meta_key = ?", postID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PostResolver rebuilds a lost scan queue from the posts table.
type PostResolver struct {
	store   *Store
	metaKey string
}

func NewPostResolver(s *Store, metaKey string) *PostResolver {
	return &PostResolver{store: s, metaKey: metaKey}
}

func (r *PostResolver) Remaining(ctx context.Context, filters []string, since time.Time) ([]int64, error) {
	return r.store.UnscannedPostIDs(ctx, filters, r.metaKey, since)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
