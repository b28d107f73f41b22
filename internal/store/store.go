package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/crowdlines/crowdlines/internal/models"
)

// ErrNotFound is returned when an id does not resolve to a stored entity.
var ErrNotFound = errors.New("not found")

// ValidationError reports a missing or blank required field on create.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// PostRepository persists posts.
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	FindAll(ctx context.Context) ([]models.Post, error)
	FindByID(ctx context.Context, id string) (*models.Post, error)
	IncrementUpvotes(ctx context.Context, id string) (*models.Post, error)
	AppendComment(ctx context.Context, postID, commentID string) error
}

// CommentRepository persists comments. Create inserts the comment and
// appends its id to the owning post in a single atomic write.
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	FindByID(ctx context.Context, id string) (*models.Comment, error)
	FindByPost(ctx context.Context, postID string) ([]models.Comment, error)
	IncrementUpvotes(ctx context.Context, id string) (*models.Comment, error)
}

// Store bundles the repositories handed to the API layer.
type Store struct {
	Posts    PostRepository
	Comments CommentRepository

	// Ping reports whether the backing database is reachable.
	Ping func(ctx context.Context) error
	// Close releases the backing connection.
	Close func(ctx context.Context) error
}

// preparePost validates a new post and fills in server-owned fields.
func preparePost(post *models.Post) error {
	post.Title = strings.TrimSpace(post.Title)
	if post.Title == "" {
		return &ValidationError{Field: "title", Message: "must not be blank"}
	}
	post.Link = strings.TrimSpace(post.Link)
	if post.Link == "" {
		post.Link = models.DefaultLink
	}
	post.ID = uuid.New().String()
	post.Upvotes = 0
	post.Comments = []string{}
	post.CreatedAt = now()
	return nil
}

// prepareComment validates a new comment and fills in server-owned fields.
func prepareComment(comment *models.Comment) error {
	comment.Body = strings.TrimSpace(comment.Body)
	if comment.Body == "" {
		return &ValidationError{Field: "body", Message: "must not be blank"}
	}
	if comment.PostID == "" {
		return &ValidationError{Field: "post", Message: "must reference a post"}
	}
	comment.Author = strings.TrimSpace(comment.Author)
	if comment.Author == "" {
		comment.Author = models.DefaultAuthor
	}
	comment.ID = uuid.New().String()
	comment.Upvotes = 0
	comment.CreatedAt = now()
	return nil
}

// now is truncated to what every backend can store, so a create response
// and a later read agree.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
