package store

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/crowdlines/crowdlines/internal/models"
)

// NewGormStore builds a Store over a gorm connection (postgres or sqlite).
func NewGormStore(db *gorm.DB) *Store {
	return &Store{
		Posts:    &gormPosts{db: db},
		Comments: &gormComments{db: db},
		Ping: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		Close: func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

type gormPosts struct {
	db *gorm.DB
}

func (r *gormPosts) Create(ctx context.Context, post *models.Post) error {
	if err := preparePost(post); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return errors.Wrap(err, "insert post")
	}
	return nil
}

func (r *gormPosts) FindAll(ctx context.Context) ([]models.Post, error) {
	tx := r.db.WithContext(ctx)
	posts := []models.Post{}
	if err := tx.Order("row_id asc").Find(&posts).Error; err != nil {
		return nil, errors.Wrap(err, "select posts")
	}
	if err := attachComments(tx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *gormPosts) FindByID(ctx context.Context, id string) (*models.Post, error) {
	return findPost(r.db.WithContext(ctx), id)
}

func (r *gormPosts) IncrementUpvotes(ctx context.Context, id string) (*models.Post, error) {
	var post *models.Post
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Post{}).Where("id = ?", id).
			UpdateColumn("upvotes", gorm.Expr("upvotes + ?", 1))
		if res.Error != nil {
			return errors.Wrap(res.Error, "increment post upvotes")
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		var err error
		post, err = findPost(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (r *gormPosts) AppendComment(ctx context.Context, postID, commentID string) error {
	return appendComment(r.db.WithContext(ctx), postID, commentID)
}

type gormComments struct {
	db *gorm.DB
}

func (r *gormComments) Create(ctx context.Context, comment *models.Comment) error {
	if err := prepareComment(comment); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := appendComment(tx, comment.PostID, comment.ID); err != nil {
			return err
		}
		if err := tx.Create(comment).Error; err != nil {
			return errors.Wrap(err, "insert comment")
		}
		return nil
	})
}

func (r *gormComments) FindByID(ctx context.Context, id string) (*models.Comment, error) {
	return findComment(r.db.WithContext(ctx), id)
}

func (r *gormComments) FindByPost(ctx context.Context, postID string) ([]models.Comment, error) {
	comments := []models.Comment{}
	err := r.db.WithContext(ctx).
		Joins("JOIN post_comments ON post_comments.comment_id = comments.id").
		Where("post_comments.post_id = ?", postID).
		Order("post_comments.id asc").
		Find(&comments).Error
	if err != nil {
		return nil, errors.Wrap(err, "select comments")
	}
	return comments, nil
}

func (r *gormComments) IncrementUpvotes(ctx context.Context, id string) (*models.Comment, error) {
	var comment *models.Comment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Comment{}).Where("id = ?", id).
			UpdateColumn("upvotes", gorm.Expr("upvotes + ?", 1))
		if res.Error != nil {
			return errors.Wrap(res.Error, "increment comment upvotes")
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		var err error
		comment, err = findComment(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

func findPost(tx *gorm.DB, id string) (*models.Post, error) {
	var post models.Post
	if err := tx.Where("id = ?", id).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "select post %s", id)
	}
	posts := []models.Post{post}
	if err := attachComments(tx, posts); err != nil {
		return nil, err
	}
	return &posts[0], nil
}

func findComment(tx *gorm.DB, id string) (*models.Comment, error) {
	var comment models.Comment
	if err := tx.Where("id = ?", id).First(&comment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "select comment %s", id)
	}
	return &comment, nil
}

// attachComments fills Post.Comments from the link table, keeping the
// append order.
func attachComments(tx *gorm.DB, posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]string, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
		posts[i].Comments = []string{}
	}

	var links []models.PostComment
	if err := tx.Where("post_id IN ?", ids).Order("id asc").Find(&links).Error; err != nil {
		return errors.Wrap(err, "select post comments")
	}
	byPost := make(map[string][]string, len(posts))
	for _, l := range links {
		byPost[l.PostID] = append(byPost[l.PostID], l.CommentID)
	}
	for i := range posts {
		if refs, ok := byPost[posts[i].ID]; ok {
			posts[i].Comments = refs
		}
	}
	return nil
}

func appendComment(tx *gorm.DB, postID, commentID string) error {
	var count int64
	if err := tx.Model(&models.Post{}).Where("id = ?", postID).Count(&count).Error; err != nil {
		return errors.Wrapf(err, "count post %s", postID)
	}
	if count == 0 {
		return ErrNotFound
	}
	link := models.PostComment{PostID: postID, CommentID: commentID}
	if err := tx.Create(&link).Error; err != nil {
		return errors.Wrap(err, "link comment")
	}
	return nil
}
