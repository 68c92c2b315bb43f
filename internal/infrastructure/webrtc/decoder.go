package webrtc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

var (
	jpegSOI = []byte{0xFF, 0xD8} // Start of Image
	jpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// maxJPEGSize bounds a single decoded frame read from ffmpeg
const maxJPEGSize = 16 << 20

// SplitJpeg is a bufio.SplitFunc that yields complete JPEG images by
// locating the SOI and EOI markers
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

// rtpWriter is the container muxer feeding ffmpeg
type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// Decoder turns RTP packets of one track into frames with an ffmpeg subprocess.
// Packets are muxed into IVF (VP8) or Annex-B (H264) on ffmpeg's stdin and
// MJPEG images are read back from its stdout.
type Decoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr bytes.Buffer
	muxer  rtpWriter

	closeOnce sync.Once
}

// NewFFmpegCmd builds the decoder command for an input container format
func NewFFmpegCmd(ctx context.Context, inputFormat string) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error",
		"-f", inputFormat, "-i", "pipe:0",
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "3", "pipe:1")
}

// NewDecoder starts ffmpeg for the given codec mime type
func NewDecoder(ctx context.Context, mimeType string) (*Decoder, error) {
	var format string
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		format = "ivf"
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		format = "h264"
	default:
		return nil, fmt.Errorf("unsupported codec %s", mimeType)
	}

	d := &Decoder{cmd: NewFFmpegCmd(ctx, format)}
	d.cmd.Stderr = &d.stderr

	var err error
	if d.stdin, err = d.cmd.StdinPipe(); err != nil {
		return nil, err
	}
	if d.stdout, err = d.cmd.StdoutPipe(); err != nil {
		return nil, err
	}
	if err := d.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	if format == "ivf" {
		w, err := ivfwriter.NewWith(d.stdin)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.muxer = w
	} else {
		d.muxer = h264writer.NewWith(d.stdin)
	}
	return d, nil
}

// WriteRTP feeds one packet to the decoder
func (d *Decoder) WriteRTP(packet *rtp.Packet) error {
	return d.muxer.WriteRTP(packet)
}

// ReadFrames decodes images until ffmpeg's output ends, calling emit for each.
// It returns nil on a clean end of stream.
func (d *Decoder) ReadFrames(emit func(domain.Frame)) error {
	scanner := bufio.NewScanner(d.stdout)
	scanner.Buffer(make([]byte, 0, 1<<20), maxJPEGSize)
	scanner.Split(SplitJpeg)

	for scanner.Scan() {
		img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
		if err != nil {
			continue
		}
		emit(domain.FrameFromImage(img))
	}
	return scanner.Err()
}

// Close stops ffmpeg. Safe to call more than once.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		if d.stdin != nil {
			d.stdin.Close()
		}
		if d.cmd.Process != nil {
			d.cmd.Process.Kill()
			d.cmd.Wait()
		}
	})
	return nil
}

// Stderr returns ffmpeg's diagnostic output. Only valid after Close.
func (d *Decoder) Stderr() string {
	return strings.TrimSpace(d.stderr.String())
}
