package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif" // GIF decode support
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/fluxterm/agentcore/internal/llm"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decode support
)

// ImageReadTool implements the image_read tool.
type ImageReadTool struct{}

// NewImageReadTool creates a new ImageReadTool.
func NewImageReadTool() *ImageReadTool {
	return &ImageReadTool{}
}

// ImageReadArgs are the arguments for image_read.
type ImageReadArgs struct {
	FilePath string `json:"file_path"`
	Detail   string `json:"detail,omitempty"` // "low", "high", or "auto"
}

const (
	maxImageSize = 5 * 1024 * 1024 // 5MB, the Anthropic API's inline image limit
	maxDimension = 1568            // Anthropic's recommended max dimension
	jpegQuality  = 85
)

var supportedImageFormats = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

func (t *ImageReadTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        ImageReadToolName,
		Description: "Read an image file for visual analysis. Returns base64-encoded image content. Supports PNG, JPEG, GIF, WebP.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the image file",
				},
				"detail": map[string]interface{}{
					"type":        "string",
					"description": "Detail level: 'low', 'high', or 'auto' (default: 'auto')",
					"enum":        []string{"low", "high", "auto"},
					"default":     "auto",
				},
			},
			"required":             []string{"file_path"},
			"additionalProperties": false,
		},
	}
}

func (t *ImageReadTool) Preview(args json.RawMessage) string {
	var a ImageReadArgs
	if err := json.Unmarshal(args, &a); err != nil || a.FilePath == "" {
		return ""
	}
	return a.FilePath
}

func (t *ImageReadTool) Execute(ctx context.Context, args json.RawMessage) (llm.ToolOutput, error) {
	var a ImageReadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return llm.ErrorOutput(formatToolError(NewToolError(ErrInvalidParams, err.Error()))), nil
	}
	if a.FilePath == "" {
		return llm.ErrorOutput(formatToolError(NewToolError(ErrInvalidParams, "file_path is required"))), nil
	}

	if _, err := os.Stat(a.FilePath); err != nil {
		if os.IsNotExist(err) {
			return llm.ErrorOutput(formatToolError(NewToolError(ErrFileNotFound, a.FilePath))), nil
		}
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "cannot stat file: %v", err))), nil
	}

	ext := strings.ToLower(filepath.Ext(a.FilePath))
	mimeType, ok := supportedImageFormats[ext]
	if !ok {
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrUnsupportedFormat, "unsupported format: %s (supported: PNG, JPEG, GIF, WebP)", ext))), nil
	}

	data, err := os.ReadFile(a.FilePath)
	if err != nil {
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to read image: %v", err))), nil
	}

	processedData, processedMime, resized, err := processImage(data, mimeType)
	if err != nil {
		return llm.ErrorOutput(formatToolError(NewToolErrorf(ErrExecutionFailed, "failed to process image: %v", err))), nil
	}

	encoded := base64.StdEncoding.EncodeToString(processedData)

	var sizeInfo string
	if resized {
		sizeInfo = fmt.Sprintf("Size: %d bytes (resized from %d bytes)", len(processedData), len(data))
	} else {
		sizeInfo = fmt.Sprintf("Size: %d bytes", len(processedData))
	}

	textResult := fmt.Sprintf("Image loaded: %s\nFormat: %s\n%s\nDetail: %s",
		a.FilePath, processedMime, sizeInfo, detailLevel(a.Detail))

	return llm.ToolOutput{
		Content: textResult,
		ContentParts: []llm.ToolContentPart{
			{Type: llm.ToolContentPartText, Text: textResult},
			{Type: llm.ToolContentPartImageData, ImageData: &llm.ImageData{MediaType: processedMime, Base64: encoded}},
		},
	}, nil
}

// processImage resizes the image if it exceeds Anthropic's size/dimension
// limits, returning the (possibly re-encoded) bytes, their mime type, and
// whether resizing occurred.
func processImage(data []byte, originalMime string) ([]byte, string, bool, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	needsResize := width > maxDimension || height > maxDimension || len(data) > maxImageSize
	if !needsResize {
		return data, originalMime, false, nil
	}

	newWidth, newHeight := width, height
	if width > maxDimension || height > maxDimension {
		if width > height {
			newWidth = maxDimension
			newHeight = int(float64(height) * float64(maxDimension) / float64(width))
		} else {
			newHeight = maxDimension
			newWidth = int(float64(width) * float64(maxDimension) / float64(height))
		}
	}

	resizedImg := resizeImage(img, newWidth, newHeight)

	var buf bytes.Buffer
	var outputMime string
	switch format {
	case "png", "gif":
		if err := png.Encode(&buf, resizedImg); err != nil {
			return nil, "", false, fmt.Errorf("failed to encode PNG: %w", err)
		}
		outputMime = "image/png"
	default:
		if err := jpeg.Encode(&buf, resizedImg, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", false, fmt.Errorf("failed to encode JPEG: %w", err)
		}
		outputMime = "image/jpeg"
	}

	result := buf.Bytes()
	if len(result) > maxImageSize {
		buf.Reset()
		if err := jpeg.Encode(&buf, resizedImg, &jpeg.Options{Quality: 70}); err != nil {
			return nil, "", false, fmt.Errorf("failed to encode JPEG: %w", err)
		}
		result = buf.Bytes()
		outputMime = "image/jpeg"

		if len(result) > maxImageSize {
			smallerWidth := newWidth * 3 / 4
			smallerHeight := newHeight * 3 / 4
			resizedImg = resizeImage(img, smallerWidth, smallerHeight)
			buf.Reset()
			if err := jpeg.Encode(&buf, resizedImg, &jpeg.Options{Quality: 70}); err != nil {
				return nil, "", false, fmt.Errorf("failed to encode JPEG: %w", err)
			}
			result = buf.Bytes()
		}
	}

	if len(result) > maxImageSize {
		return nil, "", false, fmt.Errorf("image still exceeds 5MB after resizing (%d bytes)", len(result))
	}

	return result, outputMime, true, nil
}

func resizeImage(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

func detailLevel(detail string) string {
	switch detail {
	case "low", "high":
		return detail
	default:
		return "auto"
	}
}
