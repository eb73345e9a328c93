package video

import (
	"bytes"
	"image"
	"image/png"
	"sync"

	"github.com/scandesk/capture-agent/internal/capture"
	"github.com/scandesk/capture-agent/internal/types"
	"github.com/scandesk/capture-agent/internal/util"
)

// Normalizer converts raw RGB24 document frames into PNG artifacts. Frames
// that do not match the configured dimensions (a source that already
// delivers encoded images) pass through unchanged.
type Normalizer struct {
	mu          sync.Mutex
	width       int
	height      int
	contentType string
}

// NewNormalizer returns a frame normalizer. contentType describes frames
// that pass through unencoded (e.g. "image/jpeg").
func NewNormalizer(contentType string) *Normalizer {
	return &Normalizer{contentType: contentType}
}

// SetFrameSize sets the expected raw frame dimensions. Zero disables PNG
// encoding and every frame passes through.
func (n *Normalizer) SetFrameSize(width, height int) {
	n.mu.Lock()
	n.width, n.height = width, height
	n.mu.Unlock()
}

// Normalize produces the artifact for one captured frame.
func (n *Normalizer) Normalize(raw []byte) (*capture.Artifact, error) {
	if len(raw) == 0 {
		return nil, capture.ErrArtifactTooShort
	}

	n.mu.Lock()
	w, h := n.width, n.height
	contentType := n.contentType
	n.mu.Unlock()

	if w > 0 && h > 0 && len(raw) == w*h*bytesPerPixel {
		data, err := encodePNG(raw, w, h)
		if err != nil {
			return nil, util.WrapError("encode frame", err)
		}
		return &capture.Artifact{
			Kind:        types.KindDocument,
			ContentType: "image/png",
			Data:        data,
		}, nil
	}

	return &capture.Artifact{
		Kind:        types.KindDocument,
		ContentType: contentType,
		Data:        append([]byte(nil), raw...),
	}, nil
}

// encodePNG converts a packed RGB24 buffer to PNG.
func encodePNG(raw []byte, w, h int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		src := i * bytesPerPixel
		dst := i * 4
		img.Pix[dst] = raw[src]
		img.Pix[dst+1] = raw[src+1]
		img.Pix[dst+2] = raw[src+2]
		img.Pix[dst+3] = 0xff
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
