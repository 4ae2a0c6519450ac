// Package media turns uploaded artifacts (photos, gallery picks, shared
// files, voice notes) into a payload and MIME type the rest of the
// application can store and send to an inference backend.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/http"
	"path/filepath"
	"strings"
)

const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeGIF  = "image/gif"
	MimeHEIC = "image/heic"
	MimeHEIF = "image/heif"
	MimePDF  = "application/pdf"

	// MaxArtifactBytes matches the upload limit for high-resolution phone photos.
	MaxArtifactBytes = 50 << 20
)

var (
	ErrEmpty       = errors.New("artifact is empty")
	ErrTooLarge    = errors.New("artifact is too large")
	ErrUnsupported = errors.New("unsupported artifact type")
)

var audioTypes = map[string]bool{
	"audio/webm":  true,
	"audio/ogg":   true,
	"audio/mpeg":  true,
	"audio/mp4":   true,
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/aac":   true,
}

// DetectMimeType resolves the MIME type of an artifact from the declared
// content type, then the file extension, then the content itself.
func DetectMimeType(filename, contentType string, data []byte) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType != "" && mimeType != "application/octet-stream" {
		if mimeType == "image/jpg" {
			return MimeJPEG
		}
		return mimeType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return MimeJPEG
	case ".png":
		return MimePNG
	case ".gif":
		return MimeGIF
	case ".pdf":
		return MimePDF
	case ".heic":
		return MimeHEIC
	case ".heif":
		return MimeHEIF
	case ".webm":
		return "audio/webm"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	}

	if isHEICFormat(data) {
		return MimeHEIC
	}
	sniffed := http.DetectContentType(data)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	return sniffed
}

// Normalize validates an image or PDF artifact and returns the payload to
// store. HEIC/HEIF images are converted to PNG so any client can render
// the stored capture; other supported formats are kept byte for byte.
func Normalize(filename, contentType string, data []byte) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmpty
	}
	if len(data) > MaxArtifactBytes {
		return nil, "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), MaxArtifactBytes)
	}

	mimeType := DetectMimeType(filename, contentType, data)
	switch mimeType {
	case MimeJPEG, MimePNG, MimeGIF:
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil, "", fmt.Errorf("decoding %s: %w", mimeType, err)
		}
		return data, mimeType, nil
	case MimeHEIC, MimeHEIF:
		pngData, err := imageToPNG(data, mimeType)
		if err != nil {
			return nil, "", err
		}
		return pngData, MimePNG, nil
	case MimePDF:
		if !bytes.HasPrefix(data, []byte("%PDF-")) {
			return nil, "", fmt.Errorf("%w: missing PDF header", ErrUnsupported)
		}
		return data, MimePDF, nil
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
}

// NormalizeAudio validates a voice recording.
func NormalizeAudio(filename, contentType string, data []byte) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmpty
	}
	if len(data) > MaxArtifactBytes {
		return nil, "", fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), MaxArtifactBytes)
	}
	mimeType := DetectMimeType(filename, contentType, data)
	if !audioTypes[mimeType] {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
	return data, mimeType, nil
}

// Extension returns the file extension used when storing a payload
func Extension(mimeType string) string {
	switch mimeType {
	case MimeJPEG:
		return ".jpg"
	case MimePNG:
		return ".png"
	case MimeGIF:
		return ".gif"
	case MimePDF:
		return ".pdf"
	case MimeHEIC:
		return ".heic"
	case MimeHEIF:
		return ".heif"
	default:
		return ".bin"
	}
}
