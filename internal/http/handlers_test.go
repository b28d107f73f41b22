package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/crowdlines/crowdlines/internal/config"
	"github.com/crowdlines/crowdlines/internal/db"
	"github.com/crowdlines/crowdlines/internal/models"
	"github.com/crowdlines/crowdlines/internal/store"
	"github.com/crowdlines/crowdlines/internal/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testConfig = config.Config{CORSOrigin: "*"}

func newRouter(t *testing.T, st *store.Store, hub *ws.Hub, cfg config.Config) *gin.Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	router := gin.New()
	SetupRoutes(ctx, router, st, hub, cfg)
	return router
}

func newSQLiteRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gdb, err := db.Init("sqlite://" + filepath.Join(t.TempDir(), "crowdlines.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	st := store.NewGormStore(gdb)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return newRouter(t, st, nil, testConfig)
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func createPost(t *testing.T, router *gin.Engine, title, link string) models.Post {
	t.Helper()
	w := doRequest(t, router, http.MethodPost, "/posts", gin.H{"title": title, "link": link})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var post models.Post
	decode(t, w, &post)
	return post
}

func TestCreatePost(t *testing.T) {
	router := newSQLiteRouter(t)

	w := doRequest(t, router, http.MethodPost, "/posts", gin.H{"title": "Show HN: foo", "link": "http://x"})

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "Show HN: foo", body["title"])
	assert.Equal(t, "http://x", body["link"])
	assert.Equal(t, float64(0), body["upvotes"])
	assert.Equal(t, []interface{}{}, body["comments"])
}

func TestCreatePost_BlankLinkGetsPlaceholder(t *testing.T) {
	router := newSQLiteRouter(t)

	post := createPost(t, router, "no link", "")

	assert.Equal(t, models.DefaultLink, post.Link)
}

func TestCreatePost_RejectsMissingTitle(t *testing.T) {
	router := newSQLiteRouter(t)

	for _, body := range []interface{}{
		gin.H{"link": "http://x"},
		gin.H{"title": "", "link": "http://x"},
		gin.H{"title": "   "},
		nil,
	} {
		w := doRequest(t, router, http.MethodPost, "/posts", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %v", body)
		assert.Contains(t, w.Body.String(), "error")
	}

	w := doRequest(t, router, http.MethodGet, "/posts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestGetPosts(t *testing.T) {
	router := newSQLiteRouter(t)
	first := createPost(t, router, "first", "http://a")
	second := createPost(t, router, "second", "http://b")

	w := doRequest(t, router, http.MethodGet, "/posts", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var posts []models.Post
	decode(t, w, &posts)
	require.Len(t, posts, 2)
	assert.Equal(t, first.ID, posts[0].ID)
	assert.Equal(t, second.ID, posts[1].ID)
}

func TestGetPost_NotFound(t *testing.T) {
	router := newSQLiteRouter(t)

	w := doRequest(t, router, http.MethodGet, "/posts/nonexistent-id", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpvotePost_Twice(t *testing.T) {
	router := newSQLiteRouter(t)
	post := createPost(t, router, "Show HN: foo", "http://x")

	doRequest(t, router, http.MethodPut, "/posts/"+post.ID+"/upvote", nil)
	w := doRequest(t, router, http.MethodPut, "/posts/"+post.ID+"/upvote", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var updated models.Post
	decode(t, w, &updated)
	assert.Equal(t, 2, updated.Upvotes)
	assert.Equal(t, post.ID, updated.ID)
}

func TestUpvotePost_NotFound(t *testing.T) {
	router := newSQLiteRouter(t)

	w := doRequest(t, router, http.MethodPut, "/posts/nonexistent-id/upvote", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateComment(t *testing.T) {
	router := newSQLiteRouter(t)
	post := createPost(t, router, "Show HN: foo", "http://x")

	w := doRequest(t, router, http.MethodPost, "/posts/"+post.ID+"/comments", gin.H{"body": "nice"})

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "nice", body["body"])
	assert.Equal(t, float64(0), body["upvotes"])
	assert.Equal(t, post.ID, body["post"])
	assert.Equal(t, models.DefaultAuthor, body["author"])

	w = doRequest(t, router, http.MethodGet, "/posts/"+post.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stored models.Post
	decode(t, w, &stored)
	assert.Equal(t, []string{body["id"].(string)}, stored.Comments)
}

func TestCreateComment_Validation(t *testing.T) {
	router := newSQLiteRouter(t)
	post := createPost(t, router, "thread", "")

	w := doRequest(t, router, http.MethodPost, "/posts/"+post.ID+"/comments", gin.H{"author": "Joe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPost, "/posts/"+post.ID+"/comments", gin.H{"body": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodGet, "/posts/"+post.ID+"/comments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestCreateComment_UnknownPost(t *testing.T) {
	router := newSQLiteRouter(t)

	w := doRequest(t, router, http.MethodPost, "/posts/nonexistent-id/comments", gin.H{"body": "nice"})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetComments(t *testing.T) {
	router := newSQLiteRouter(t)
	post := createPost(t, router, "thread", "")
	for _, text := range []string{"first!", "second"} {
		w := doRequest(t, router, http.MethodPost, "/posts/"+post.ID+"/comments", gin.H{"body": text, "author": "Joe"})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doRequest(t, router, http.MethodGet, "/posts/"+post.ID+"/comments", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var comments []models.Comment
	decode(t, w, &comments)
	require.Len(t, comments, 2)
	assert.Equal(t, "first!", comments[0].Body)
	assert.Equal(t, "second", comments[1].Body)
	assert.Equal(t, "Joe", comments[1].Author)
}

func TestUpvoteComment(t *testing.T) {
	router := newSQLiteRouter(t)
	post := createPost(t, router, "thread", "")
	w := doRequest(t, router, http.MethodPost, "/posts/"+post.ID+"/comments", gin.H{"body": "nice"})
	require.Equal(t, http.StatusOK, w.Code)
	var comment models.Comment
	decode(t, w, &comment)

	path := "/posts/" + post.ID + "/comments/" + comment.ID + "/upvote"
	doRequest(t, router, http.MethodPut, path, nil)
	w = doRequest(t, router, http.MethodPut, path, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var updated models.Comment
	decode(t, w, &updated)
	assert.Equal(t, 2, updated.Upvotes)

	w = doRequest(t, router, http.MethodGet, "/posts/"+post.ID+"/comments/"+comment.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &updated)
	assert.Equal(t, 2, updated.Upvotes)
}

func TestUpvoteComment_WrongPost(t *testing.T) {
	router := newSQLiteRouter(t)
	post := createPost(t, router, "thread", "")
	other := createPost(t, router, "other", "")
	w := doRequest(t, router, http.MethodPost, "/posts/"+post.ID+"/comments", gin.H{"body": "nice"})
	require.Equal(t, http.StatusOK, w.Code)
	var comment models.Comment
	decode(t, w, &comment)

	w = doRequest(t, router, http.MethodPut, "/posts/"+other.ID+"/comments/"+comment.ID+"/upvote", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, router, http.MethodPut, "/posts/"+post.ID+"/comments/nonexistent-id/upvote", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIPrefix(t *testing.T) {
	router := newSQLiteRouter(t)
	post := createPost(t, router, "mounted twice", "")

	w := doRequest(t, router, http.MethodGet, "/api/posts/"+post.ID, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var got models.Post
	decode(t, w, &got)
	assert.Equal(t, post.ID, got.ID)
}

func TestGetPosts_StoreFailure(t *testing.T) {
	st, posts, _ := store.NewMockStore()
	posts.On("FindAll", mock.Anything).Return(nil, errors.New("connection refused"))
	router := newRouter(t, st, nil, testConfig)

	w := doRequest(t, router, http.MethodGet, "/posts", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	posts.AssertExpectations(t)
}

func TestCreateComment_StoreFailure(t *testing.T) {
	st, posts, comments := store.NewMockStore()
	post := &models.Post{ID: "1", Title: "thread", Comments: []string{}}
	posts.On("FindByID", mock.Anything, "1").Return(post, nil)
	comments.On("Create", mock.Anything, mock.MatchedBy(func(c *models.Comment) bool {
		return c.PostID == "1" && c.Body == "nice"
	})).Return(errors.New("write conflict"))
	router := newRouter(t, st, nil, testConfig)

	w := doRequest(t, router, http.MethodPost, "/posts/1/comments", gin.H{"body": "nice"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	posts.AssertExpectations(t)
	comments.AssertExpectations(t)
}

func TestUpvotePost_LoaderStopsOnNotFound(t *testing.T) {
	st, posts, _ := store.NewMockStore()
	posts.On("FindByID", mock.Anything, "missing").Return(nil, store.ErrNotFound)
	router := newRouter(t, st, nil, testConfig)

	w := doRequest(t, router, http.MethodPut, "/posts/missing/upvote", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	posts.AssertNotCalled(t, "IncrementUpvotes", mock.Anything, mock.Anything)
}

func TestCreatePost_StoreValidationError(t *testing.T) {
	st, posts, _ := store.NewMockStore()
	posts.On("Create", mock.Anything, mock.Anything).
		Return(&store.ValidationError{Field: "title", Message: "must not be blank"})
	router := newRouter(t, st, nil, testConfig)

	w := doRequest(t, router, http.MethodPost, "/posts", gin.H{"title": "x"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "title")
}

func TestHealth(t *testing.T) {
	st, _, _ := store.NewMockStore()
	router := newRouter(t, st, nil, testConfig)

	w := doRequest(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	st.Ping = func(context.Context) error { return errors.New("down") }
	w = doRequest(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreatePost_RateLimited(t *testing.T) {
	st, posts, _ := store.NewMockStore()
	posts.On("Create", mock.Anything, mock.Anything).Return(nil)
	router := newRouter(t, st, nil, config.Config{CORSOrigin: "*", RateLimitRPS: 0.001, RateLimitBurst: 1})

	w := doRequest(t, router, http.MethodPost, "/posts", gin.H{"title": "first"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, http.MethodPost, "/posts", gin.H{"title": "second"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// reads are not throttled
	posts.On("FindAll", mock.Anything).Return([]models.Post{}, nil)
	w = doRequest(t, router, http.MethodGet, "/posts", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMutationsBroadcast(t *testing.T) {
	st, posts, _ := store.NewMockStore()
	posts.On("Create", mock.Anything, mock.Anything).Return(nil)
	hub := ws.NewHub()
	router := newRouter(t, st, hub, testConfig)

	w := doRequest(t, router, http.MethodPost, "/posts", gin.H{"title": "live"})
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case raw := <-hub.Broadcast:
		var msg struct {
			Type string      `json:"type"`
			Data models.Post `json:"data"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, EventNewPost, msg.Type)
		assert.Equal(t, "live", msg.Data.Title)
	default:
		t.Fatal("expected a broadcast message")
	}
}

func TestSecurityHeaders(t *testing.T) {
	st, posts, _ := store.NewMockStore()
	posts.On("FindAll", mock.Anything).Return([]models.Post{}, nil)
	router := newRouter(t, st, nil, testConfig)

	w := doRequest(t, router, http.MethodGet, "/posts", nil)

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
