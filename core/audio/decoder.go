package audio

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"Bt1QMix/logger"

	"github.com/go-audio/wav"
	"github.com/gopxl/beep/v2/mp3"
)

// ErrUnsupportedFormat is returned when a file's format cannot be decoded
// natively and no ffmpeg fallback is configured.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Decoder turns audio files into in-memory PCM buffers. WAV and MP3 decode
// natively; anything else is converted through ffmpeg when a binary path is
// configured, matching how the FM service transcodes uploads.
type Decoder struct {
	ffmpegPath string
}

// NewDecoder creates a decoder. ffmpegPath may be empty to disable the
// conversion fallback.
func NewDecoder(ffmpegPath string) *Decoder {
	return &Decoder{ffmpegPath: ffmpegPath}
}

// Decode reads the file at path into a Buffer. A failure here means the track
// is unusable; callers must not create a library entry from it.
func (d *Decoder) Decode(path string) (*Buffer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return d.decodeWAV(path)
	case ".mp3":
		return d.decodeMP3(path)
	default:
		if d.ffmpegPath == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
		}
		return d.decodeViaFFmpeg(path)
	}
}

func (d *Decoder) decodeWAV(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file: %s", path)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read wav pcm: %w", err)
	}
	if pcm.Format == nil || pcm.Format.NumChannels <= 0 || pcm.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("wav file has no usable format: %s", path)
	}

	channels := pcm.Format.NumChannels
	scale := float64(int(1) << (dec.BitDepth - 1))
	frames := len(pcm.Data) / channels

	buf := &Buffer{
		SampleRate: pcm.Format.SampleRate,
		Samples:    make([][2]float64, frames),
	}
	for i := 0; i < frames; i++ {
		left := float64(pcm.Data[i*channels]) / scale
		right := left
		if channels > 1 {
			right = float64(pcm.Data[i*channels+1]) / scale
		}
		buf.Samples[i] = [2]float64{left, right}
	}
	return buf, nil
}

func (d *Decoder) decodeMP3(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mp3 file: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode mp3: %w", err)
	}
	defer streamer.Close()

	buf := &Buffer{SampleRate: int(format.SampleRate)}
	chunk := make([][2]float64, 2048)
	for {
		n, ok := streamer.Stream(chunk)
		buf.Samples = append(buf.Samples, chunk[:n]...)
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("mp3 stream error: %w", err)
	}
	return buf, nil
}

// decodeViaFFmpeg converts the input to a temporary 16-bit WAV and decodes
// that. ffmpeg writes its length headers only on seekable outputs, so the
// conversion goes through a temp file rather than a pipe.
func (d *Decoder) decodeViaFFmpeg(path string) (*Buffer, error) {
	tmpDir, err := os.MkdirTemp("", "mixdecode-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpWav := filepath.Join(tmpDir, "converted.wav")
	args := []string{
		"-i", path,
		"-vn",
		"-acodec", "pcm_s16le",
		"-y", tmpWav,
	}

	logger.Debug("converting audio via ffmpeg",
		logger.String("input", path),
		logger.String("output", tmpWav))

	cmd := exec.Command(d.ffmpegPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg conversion failed: %w (output: %s)", err, truncate(string(out), 500))
	}

	return d.decodeWAV(tmpWav)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
