package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Brownie44l1/leaf-api/internal/model"
)

// Upload errors that only exist at the HTTP boundary.
var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrMissingUpload        = errors.New("missing upload")
	ErrUploadTooLarge       = errors.New("upload too large")
)

// statusTable maps error kinds to response codes. The first match wins.
var statusTable = []struct {
	kind   error
	status int
}{
	{kind: ErrUnsupportedMediaType, status: http.StatusUnsupportedMediaType},
	{kind: ErrUploadTooLarge, status: http.StatusRequestEntityTooLarge},
	{kind: ErrMissingUpload, status: http.StatusUnprocessableEntity},
	{kind: model.ErrInvalidInput, status: http.StatusBadRequest},
	{kind: model.ErrInference, status: http.StatusInternalServerError},
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func statusFor(err error) int {
	for _, entry := range statusTable {
		if errors.Is(err, entry.kind) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error, detail string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		klog.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	} else {
		klog.V(2).Infof("%s %s rejected (%d): %v", c.Request.Method, c.Request.URL.Path, status, err)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Detail: detail})
}
