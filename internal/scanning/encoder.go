package scanning

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	"image/png"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"
)

// File is an image supplied by the user
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// EncodedImage is a base64 payload ready to embed in an API request
type EncodedImage struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}

// DataURI returns the image as a data URI for previews
func (e EncodedImage) DataURI() string {
	return "data:" + e.MIMEType + ";base64," + e.Data
}

// Encoder converts image files into base64 payloads.
// The zero value passes images through unchanged (HEIC excepted).
type Encoder struct {
	// MaxDimension downscales images whose width or height exceeds it. Zero disables resizing.
	MaxDimension int
	// JPEGQuality is used when a resized JPEG is re-encoded. Defaults to 85.
	JPEGQuality int
}

// DetectType returns the normalized declared type of f, sniffing the content when none is declared
func DetectType(f File) string {
	mimeType := strings.ToLower(strings.TrimSpace(f.ContentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(f.Data).String()
		if i := strings.Index(mimeType, ";"); i >= 0 {
			mimeType = mimeType[:i]
		}
	}
	return mimeType
}

// IsImage reports whether f declares (or sniffs as) an image type
func IsImage(f File) bool {
	return strings.HasPrefix(DetectType(f), "image/")
}

// Encode converts f to a base64 payload and its MIME type
func (e *Encoder) Encode(f File) (EncodedImage, error) {
	mimeType := DetectType(f)
	if !strings.HasPrefix(mimeType, "image/") {
		return EncodedImage{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	data := f.Data
	if isHEICFormat(data) || isHEICMimeType(mimeType) {
		converted, err := heicToPNG(data)
		if err != nil {
			return EncodedImage{}, err
		}
		data, mimeType = converted, "image/png"
	}

	if e.MaxDimension > 0 {
		resized, resizedType, err := e.downscale(data, mimeType)
		if err != nil {
			// Oversized payloads are still accepted by the API, so keep the original
			slog.Warn("Failed to resize image", "filename", f.Name, "content_type", mimeType, "error", err)
		} else {
			data, mimeType = resized, resizedType
		}
	}

	return EncodedImage{
		Data:     base64.StdEncoding.EncodeToString(data),
		MIMEType: mimeType,
	}, nil
}

// heicToPNG decodes HEIC/HEIF (common on iPhones) and re-encodes it as PNG
func heicToPNG(data []byte) ([]byte, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// downscale shrinks the image to fit MaxDimension, keeping its aspect ratio.
// Images already within bounds are returned as-is.
func (e *Encoder) downscale(data []byte, mimeType string) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= e.MaxDimension && height <= e.MaxDimension {
		return data, mimeType, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = e.MaxDimension
		newHeight = max(1, height*e.MaxDimension/width)
	} else {
		newHeight = e.MaxDimension
		newWidth = max(1, width*e.MaxDimension/height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if format == "jpeg" {
		quality := e.JPEGQuality
		if quality <= 0 {
			quality = 85
		}
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", fmt.Errorf("encoding JPEG: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	}

	if err := png.Encode(&buf, dst); err != nil {
		return nil, "", fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), "image/png", nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files carry an ftyp box at offset 4 with a HEIC-related brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
