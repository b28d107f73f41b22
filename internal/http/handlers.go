package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crowdlines/crowdlines/internal/models"
	"github.com/crowdlines/crowdlines/internal/store"
	"github.com/crowdlines/crowdlines/internal/ws"
)

// Live feed event types.
const (
	EventNewPost       = "new_post"
	EventUpvotePost    = "upvote_post"
	EventNewComment    = "new_comment"
	EventUpvoteComment = "upvote_comment"
)

// --- Structs for request binding ---
type CreatePostInput struct {
	Title string `json:"title" binding:"required"`
	Link  string `json:"link"`
}

type CreateCommentInput struct {
	Body   string `json:"body" binding:"required"`
	Author string `json:"author"`
}

// WsMessage is the envelope pushed to live feed subscribers.
type WsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Env carries the handler dependencies. Hub may be nil.
type Env struct {
	Store *store.Store
	Hub   *ws.Hub
}

func (e *Env) GetPosts(c *gin.Context) {
	posts, err := e.Store.Posts.FindAll(c.Request.Context())
	if err != nil {
		forward(c, err)
		return
	}
	c.JSON(http.StatusOK, posts)
}

func (e *Env) CreatePost(c *gin.Context) {
	var input CreatePostInput
	if err := c.ShouldBindJSON(&input); err != nil {
		forwardBind(c, err)
		return
	}
	post := models.Post{Title: input.Title, Link: input.Link}
	if err := e.Store.Posts.Create(c.Request.Context(), &post); err != nil {
		forward(c, err)
		return
	}
	e.broadcast(EventNewPost, post)
	c.JSON(http.StatusOK, post)
}

func (e *Env) GetPost(c *gin.Context, post *models.Post) {
	c.JSON(http.StatusOK, post)
}

func (e *Env) UpvotePost(c *gin.Context, post *models.Post) {
	updated, err := e.Store.Posts.IncrementUpvotes(c.Request.Context(), post.ID)
	if err != nil {
		forward(c, err)
		return
	}
	e.broadcast(EventUpvotePost, updated)
	c.JSON(http.StatusOK, updated)
}

func (e *Env) GetComments(c *gin.Context, post *models.Post) {
	comments, err := e.Store.Comments.FindByPost(c.Request.Context(), post.ID)
	if err != nil {
		forward(c, err)
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	c.JSON(http.StatusOK, comments)
}

// CreateComment stores the comment and links it into the post in one
// atomic store call.
func (e *Env) CreateComment(c *gin.Context, post *models.Post) {
	var input CreateCommentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		forwardBind(c, err)
		return
	}
	comment := models.Comment{Body: input.Body, Author: input.Author, PostID: post.ID}
	if err := e.Store.Comments.Create(c.Request.Context(), &comment); err != nil {
		forward(c, err)
		return
	}
	e.broadcast(EventNewComment, comment)
	c.JSON(http.StatusOK, comment)
}

func (e *Env) GetComment(c *gin.Context, _ *models.Post, comment *models.Comment) {
	c.JSON(http.StatusOK, comment)
}

func (e *Env) UpvoteComment(c *gin.Context, _ *models.Post, comment *models.Comment) {
	updated, err := e.Store.Comments.IncrementUpvotes(c.Request.Context(), comment.ID)
	if err != nil {
		forward(c, err)
		return
	}
	e.broadcast(EventUpvoteComment, updated)
	c.JSON(http.StatusOK, updated)
}

func (e *Env) Health(c *gin.Context) {
	if err := e.Store.Ping(c.Request.Context()); err != nil {
		log.Printf("Health check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// broadcast never blocks the request; a full hub queue drops the event.
func (e *Env) broadcast(eventType string, data interface{}) {
	if e.Hub == nil {
		return
	}
	msg, err := json.Marshal(WsMessage{Type: eventType, Data: data})
	if err != nil {
		log.Printf("Error marshalling WS message: %v", err)
		return
	}
	select {
	case e.Hub.Broadcast <- msg:
	default:
		log.Printf("Dropping %s event: hub queue full", eventType)
	}
}
