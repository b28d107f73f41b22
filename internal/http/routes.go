package http

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/crowdlines/crowdlines/internal/config"
	"github.com/crowdlines/crowdlines/internal/store"
	"github.com/crowdlines/crowdlines/internal/ws"
)

const limiterSweepInterval = 10 * time.Minute

// SetupRoutes configures all application routes and middleware. The rate
// limiter sweeper stops when ctx is done.
func SetupRoutes(ctx context.Context, router *gin.Engine, st *store.Store, hub *ws.Hub, cfg config.Config) {
	env := &Env{Store: st, Hub: hub}

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(SecurityHeadersMiddleware())
	router.Use(cors.New(corsConfig(cfg.CORSOrigin)))
	router.Use(ErrorHandler())

	// creates are the only routes worth throttling
	var limit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if cfg.RateLimitRPS > 0 {
		limiter := NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
		go limiter.Cleanup(ctx, limiterSweepInterval)
		limit = RateLimitMiddleware(limiter)
	}

	router.GET("/healthz", env.Health)

	// bare paths for the original client, /api for everything else
	for _, prefix := range []string{"", "/api"} {
		api := router.Group(prefix)
		{
			api.GET("/posts", env.GetPosts)
			api.POST("/posts", limit, env.CreatePost)
			api.GET("/posts/:post", env.withPost(env.GetPost))
			api.PUT("/posts/:post/upvote", env.withPost(env.UpvotePost))
			api.GET("/posts/:post/comments", env.withPost(env.GetComments))
			api.POST("/posts/:post/comments", limit, env.withPost(env.CreateComment))
			api.GET("/posts/:post/comments/:comment", env.withComment(env.GetComment))
			api.PUT("/posts/:post/comments/:comment/upvote", env.withComment(env.UpvoteComment))
		}
	}

	if hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			ws.ServeWs(hub, c.Writer, c.Request)
		})
	}
}

func corsConfig(origin string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
	}
	if origin == "" || origin == "*" {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = []string{origin}
	cfg.AllowCredentials = true
	return cfg
}
