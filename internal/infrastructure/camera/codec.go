package camera

import (
	"fmt"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/codec/x264"
)

// KeyFrameInterval is the encoder keyframe distance in frames
const KeyFrameInterval = 60

// NewCodecSelector builds the encoder set for a camera node. codec is "vp8" or "h264".
func NewCodecSelector(codec string, bitRate int) (*mediadevices.CodecSelector, error) {
	switch strings.ToLower(codec) {
	case "", "vp8":
		params, err := vpx.NewVP8Params()
		if err != nil {
			return nil, fmt.Errorf("create vp8 params: %w", err)
		}
		params.BitRate = bitRate
		params.KeyFrameInterval = KeyFrameInterval
		return mediadevices.NewCodecSelector(mediadevices.WithVideoEncoders(&params)), nil
	case "h264":
		params, err := x264.NewParams()
		if err != nil {
			return nil, fmt.Errorf("create x264 params: %w", err)
		}
		params.BitRate = bitRate
		params.Preset = x264.PresetUltrafast
		params.KeyFrameInterval = KeyFrameInterval
		return mediadevices.NewCodecSelector(mediadevices.WithVideoEncoders(&params)), nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}
}
