package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/scandesk/capture-agent/internal/capture"
	"github.com/scandesk/capture-agent/internal/types"
)

// Encoding names the sample encoding of raw chunks read from the source.
type Encoding string

// Supported source encodings.
const (
	EncodingS16LE Encoding = "s16le"
	EncodingF32LE Encoding = "f32le"
)

// Fallback format assumed when structured decode fails.
const (
	DefaultSampleRate = 16000
	DefaultChannels   = 1
)

const wavHeaderSize = 44

// ErrMalformedPCM means the raw buffer does not divide evenly into frames of
// the declared encoding.
var ErrMalformedPCM = errors.New("malformed PCM buffer")

// Format describes the raw PCM stream delivered by the signal source.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// Normalizer converts raw captured PCM into a canonical 16-bit WAV artifact.
// It is safe for concurrent use.
type Normalizer struct {
	mu          sync.Mutex
	format      Format
	minDuration time.Duration
}

// NewNormalizer returns a normalizer for the given source format. Artifacts
// shorter than minDuration are rejected as capture noise.
func NewNormalizer(format Format, minDuration time.Duration) *Normalizer {
	return &Normalizer{format: format, minDuration: minDuration}
}

// SetMinDuration updates the minimum artifact duration floor.
func (n *Normalizer) SetMinDuration(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.minDuration = d
}

// Normalize decodes the raw buffer to per-channel samples, interleaves them,
// quantizes to clamped 16-bit signed integers and prepends a canonical WAV
// header. When structured decode fails the raw bytes are wrapped in a minimal
// valid container assuming the default rate and channel count instead of
// dropping the artifact.
func (n *Normalizer) Normalize(raw []byte) (*capture.Artifact, error) {
	n.mu.Lock()
	format := n.format
	minDuration := n.minDuration
	n.mu.Unlock()

	channels, err := decodeChannels(raw, format)
	if err != nil {
		slog.Debug("structured decode failed, wrapping raw bytes", "error", err)
		return buildArtifact(raw, DefaultSampleRate, DefaultChannels, minDuration)
	}

	pcm := interleave(channels)
	return buildArtifact(encodeSamples(pcm), format.SampleRate, format.Channels, minDuration)
}

// buildArtifact applies the minimum-duration guard and synthesizes the
// container around already-quantized sample bytes.
func buildArtifact(sampleBytes []byte, sampleRate, channelCount int, minDuration time.Duration) (*capture.Artifact, error) {
	frames := len(sampleBytes) / (2 * channelCount)
	duration := time.Duration(frames) * time.Second / time.Duration(sampleRate)
	if duration < minDuration {
		return nil, capture.ErrArtifactTooShort
	}

	data := make([]byte, 0, wavHeaderSize+len(sampleBytes))
	data = append(data, encodeHeader(len(sampleBytes), sampleRate, channelCount)...)
	data = append(data, sampleBytes...)

	return &capture.Artifact{
		Kind:        types.KindVoice,
		ContentType: "audio/wav",
		Data:        data,
		Duration:    duration,
		SampleRate:  sampleRate,
		Channels:    channelCount,
	}, nil
}

// decodeChannels converts the raw buffer into per-channel float sample arrays
// in the -1..1 range.
func decodeChannels(raw []byte, format Format) ([][]float64, error) {
	if format.Channels < 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrMalformedPCM, format.Channels)
	}

	var bytesPerSample int
	switch format.Encoding {
	case EncodingS16LE:
		bytesPerSample = 2
	case EncodingF32LE:
		bytesPerSample = 4
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrMalformedPCM, format.Encoding)
	}

	frameSize := bytesPerSample * format.Channels
	if len(raw) == 0 || len(raw)%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of %d-byte frames", ErrMalformedPCM, len(raw), frameSize)
	}

	frames := len(raw) / frameSize
	channels := make([][]float64, format.Channels)
	for ch := range channels {
		channels[ch] = make([]float64, frames)
	}

	for frame := 0; frame < frames; frame++ {
		for ch := 0; ch < format.Channels; ch++ {
			offset := frame*frameSize + ch*bytesPerSample
			switch format.Encoding {
			case EncodingS16LE:
				s := int16(binary.LittleEndian.Uint16(raw[offset:]))
				channels[ch][frame] = float64(s) / MaxSampleValue
			case EncodingF32LE:
				bits := binary.LittleEndian.Uint32(raw[offset:])
				channels[ch][frame] = float64(math.Float32frombits(bits))
			}
		}
	}
	return channels, nil
}

// interleave merges per-channel samples and quantizes to clamped 16-bit
// signed integers.
func interleave(channels [][]float64) []int16 {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	out := make([]int16, 0, frames*len(channels))
	for frame := 0; frame < frames; frame++ {
		for ch := range channels {
			out = append(out, quantize(channels[ch][frame]))
		}
	}
	return out
}

// quantize converts a -1..1 float sample to int16, clamping out-of-range
// values instead of wrapping.
func quantize(v float64) int16 {
	scaled := v * (MaxSampleValue - 1)
	switch {
	case scaled > math.MaxInt16:
		return math.MaxInt16
	case scaled < math.MinInt16:
		return math.MinInt16
	default:
		return int16(scaled)
	}
}

// encodeSamples serializes int16 samples as little-endian bytes.
func encodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// encodeHeader synthesizes a canonical 44-byte PCM WAV header.
func encodeHeader(dataLen, sampleRate, channelCount int) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // format tag: PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channelCount))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*channelCount*2)) // byte rate
	binary.LittleEndian.PutUint16(h[32:34], uint16(channelCount*2))            // block align
	binary.LittleEndian.PutUint16(h[34:36], 16)                                // bits per sample
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// DecodeWAV parses a canonical PCM WAV container back into samples and
// format metadata.
func DecodeWAV(data []byte) (samples []int16, sampleRate, channelCount int, err error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("not a RIFF/WAVE container")
	}
	if string(data[12:16]) != "fmt " || binary.LittleEndian.Uint16(data[20:22]) != 1 {
		return nil, 0, 0, errors.New("not canonical PCM")
	}

	channelCount = int(binary.LittleEndian.Uint16(data[22:24]))
	sampleRate = int(binary.LittleEndian.Uint32(data[24:28]))
	if string(data[36:40]) != "data" {
		return nil, 0, 0, errors.New("missing data chunk")
	}

	dataLen := int(binary.LittleEndian.Uint32(data[40:44]))
	if len(data) < wavHeaderSize+dataLen {
		return nil, 0, 0, errors.New("truncated data chunk")
	}

	samples = make([]int16, dataLen/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[wavHeaderSize+i*2:]))
	}
	return samples, sampleRate, channelCount, nil
}
