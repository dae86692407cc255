package httpapi

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/suPer8Hu/ai-chatdoc/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-chatdoc/internal/httpapi/middleware"
	"github.com/suPer8Hu/ai-chatdoc/internal/metrics"
)

type Options struct {
	JWTSecret string
}

var registerOnce sync.Once

// registerValidators makes binding errors report json field names and adds
// the notblank rule.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("notblank", validators.NotBlank)
	})
}

func NewRouter(h *handlers.Handler, opts Options) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog())

	r.NoRoute(h.NoRoute)
	r.NoMethod(h.NoMethod)

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.Use(middleware.AuthRequired(opts.JWTSecret))

	ai := api.Group("/ai")
	ai.POST("/chat", h.Chat)
	ai.POST("/chat/context", h.ChatWithContext)
	ai.POST("/chat/history", h.ChatWithHistory)
	ai.POST("/chat/stream", h.ChatStream)
	ai.GET("/conversations/:id", h.GetConversation)
	ai.DELETE("/conversations/:id", h.ClearConversation)
	ai.DELETE("/conversations", h.ClearAllConversations)

	docs := api.Group("/documents")
	docs.POST("/upload", h.UploadDocument)
	docs.POST("/text", h.AddTextDocument)
	docs.GET("", h.ListDocuments)
	docs.GET("/:id", h.GetDocument)
	docs.GET("/:id/search", h.SearchDocument)
	docs.DELETE("/:id", h.DeleteDocument)

	return r
}
