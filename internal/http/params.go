package http

import (
	"github.com/gin-gonic/gin"

	"github.com/crowdlines/crowdlines/internal/models"
	"github.com/crowdlines/crowdlines/internal/store"
)

type postHandler func(c *gin.Context, post *models.Post)

type commentHandler func(c *gin.Context, post *models.Post, comment *models.Comment)

// withPost resolves the :post path parameter and passes the post to h.
// Lookup errors go to ErrorHandler and h is not called.
func (e *Env) withPost(h postHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		post, err := e.Store.Posts.FindByID(c.Request.Context(), c.Param("post"))
		if err != nil {
			forward(c, err)
			return
		}
		h(c, post)
	}
}

// withComment resolves :post and :comment. A comment that belongs to a
// different post is reported as not found.
func (e *Env) withComment(h commentHandler) gin.HandlerFunc {
	return e.withPost(func(c *gin.Context, post *models.Post) {
		comment, err := e.Store.Comments.FindByID(c.Request.Context(), c.Param("comment"))
		if err != nil {
			forward(c, err)
			return
		}
		if comment.PostID != post.ID {
			forward(c, store.ErrNotFound)
			return
		}
		h(c, post, comment)
	})
}
