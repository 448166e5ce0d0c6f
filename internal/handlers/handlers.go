package handlers

import (
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Brownie44l1/leaf-api/internal/imaging"
	"github.com/Brownie44l1/leaf-api/internal/model"
)

// uploadField is the multipart field carrying the photo.
const uploadField = "file"

// Predictor is the inference service as seen by the HTTP layer.
type Predictor interface {
	Predict(img image.Image, topk int) (*model.PredictionResult, error)
}

type Handler struct {
	predictor Predictor
}

func NewHandler(predictor Predictor) *Handler {
	return &Handler{
		predictor: predictor,
	}
}

// Health reports liveness only. It never touches the model.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Classes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"classes": model.Classes()})
}

func (h *Handler) APIDocs(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(apiDocsHTML))
}

func (h *Handler) Predict(c *gin.Context) {
	header, err := c.FormFile(uploadField)
	if err != nil {
		if isBodyTooLarge(err) {
			abortWithError(c, errors.Wrap(ErrUploadTooLarge, err.Error()), "Uploaded file is too large.")
			return
		}
		abortWithError(c, errors.Wrap(ErrMissingUpload, err.Error()), `Field "file" is required.`)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if !strings.Contains(contentType, "image") {
		abortWithError(c, errors.Wrapf(ErrUnsupportedMediaType, "content type %q", contentType), "Please upload an image file.")
		return
	}

	topk, err := parseTopK(c.Query("topk"))
	if err != nil {
		abortWithError(c, err, "topk must be a positive integer.")
		return
	}

	f, err := header.Open()
	if err != nil {
		abortWithError(c, errors.Wrapf(model.ErrInvalidInput, "open upload: %v", err), "Invalid image data.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		abortWithError(c, errors.Wrapf(model.ErrInvalidInput, "read upload: %v", err), "Invalid image data.")
		return
	}

	img, format, err := imaging.Decode(data)
	if err != nil {
		abortWithError(c, errors.Wrapf(model.ErrInvalidInput, "decode %s: %v", header.Filename, err), "Invalid image data.")
		return
	}
	if img.Bounds().Empty() {
		abortWithError(c, errors.Wrapf(model.ErrInvalidInput, "decode %s: empty %s image", header.Filename, format), "Invalid image data.")
		return
	}

	klog.V(2).Infof("Received %s: %d bytes, format %s, %dx%d",
		header.Filename, len(data), format, img.Bounds().Dx(), img.Bounds().Dy())

	result, err := h.predictor.Predict(img, topk)
	if err != nil {
		if errors.Is(err, model.ErrInvalidInput) {
			abortWithError(c, err, "Invalid image data.")
			return
		}
		abortWithError(c, err, "Inference failed: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, result)
}

// isBodyTooLarge detects LimitBody tripping inside multipart parsing, which
// does not always keep the error chain intact.
func isBodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func parseTopK(raw string) (int, error) {
	if raw == "" {
		return model.DefaultTopK, nil
	}

	k, err := strconv.Atoi(raw)
	if err != nil || k < 1 {
		return 0, errors.Wrapf(model.ErrInvalidInput, "invalid topk %q", raw)
	}

	return k, nil
}
