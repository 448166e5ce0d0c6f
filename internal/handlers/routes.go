package handlers

import (
	"os"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

const frontendPrefix = "/frontend"

// Dependencies defines what the routes need.
type Dependencies struct {
	// Predictor is the shared inference service.
	Predictor Predictor
	// FrontendDir is served under /frontend when it exists.
	FrontendDir string
	// MaxUploadBytes caps the /predict body. Zero means no cap.
	MaxUploadBytes int64
}

// NewRouter builds a gin engine with middleware and all routes registered.
func NewRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(), CORS())

	RegisterRoutes(r, deps)
	return r
}

// RegisterRoutes registers the API and static frontend routes.
func RegisterRoutes(r *gin.Engine, deps *Dependencies) {
	h := NewHandler(deps.Predictor)

	if deps.FrontendDir != "" {
		if info, err := os.Stat(deps.FrontendDir); err == nil && info.IsDir() {
			r.Use(static.Serve(frontendPrefix, static.LocalFile(deps.FrontendDir, true)))
		} else {
			klog.Warningf("Frontend directory %s not found, %s is disabled", deps.FrontendDir, frontendPrefix)
		}
	}

	r.GET("/health", h.Health)
	r.GET("/classes", h.Classes)
	r.GET("/api", h.APIDocs)
	r.POST("/predict", LimitBody(deps.MaxUploadBytes), h.Predict)
}
