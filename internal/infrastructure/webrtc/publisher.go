package webrtc

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
	"github.com/2vyy/qt-camera-dashboard/internal/infrastructure/camera"
)

var errConnectionLost = errors.New("peer connection lost")

// OfferSender delivers an offer to the server and returns its answer
type OfferSender interface {
	SendOffer(ctx context.Context, url string, cameraID domain.CameraID, offer domain.SessionDescription) (domain.SessionDescription, error)
}

// Publisher captures a local camera and sends it to a server over WebRTC
type Publisher struct {
	cameras    *camera.MediaDevicesManager
	signaling  OfferSender
	iceServers []string
	logger     application.Logger
}

// NewPublisher creates a camera node publisher
func NewPublisher(cameras *camera.MediaDevicesManager, signaling OfferSender, iceServers []string, logger application.Logger) *Publisher {
	return &Publisher{
		cameras:    cameras,
		signaling:  signaling,
		iceServers: iceServers,
		logger:     logger,
	}
}

// Publish implements application.Publisher. It returns when the connection
// fails or closes, or when ctx is cancelled.
func (p *Publisher) Publish(ctx context.Context, config domain.VideoConfig) error {
	codecs, err := camera.NewCodecSelector(config.CodecName, config.BitRate)
	if err != nil {
		return err
	}

	track, err := p.cameras.OpenTrack(config, codecs)
	if err != nil {
		return err
	}
	defer track.Close()
	p.logger.Info("Using camera", "camera_id", config.CameraID, "track", track.ID())

	mediaEngine := webrtc.MediaEngine{}
	codecs.Populate(&mediaEngine)
	api := webrtc.NewAPI(webrtc.WithMediaEngine(&mediaEngine))

	ended := make(chan error, 1)
	track.OnEnded(func(err error) {
		p.logger.Warn("Capture track ended", "camera_id", config.CameraID, "error", err)
		select {
		case ended <- fmt.Errorf("capture ended: %w", err):
		default:
		}
	})

	return p.stream(ctx, api, track, ended, config)
}

// stream sends track over a new send-only connection and blocks until the
// connection fails or closes, ended delivers an error, or ctx is cancelled
func (p *Publisher) stream(ctx context.Context, api *webrtc.API, track webrtc.TrackLocal, ended <-chan error, config domain.VideoConfig) error {
	pc, err := api.NewPeerConnection(Configuration(p.iceServers))
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	defer pc.Close()

	lost := make(chan struct{}, 1)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Info("Connection state changed", "camera_id", config.CameraID, "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	})

	if _, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	}); err != nil {
		return fmt.Errorf("add video track: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil
	}

	local := pc.LocalDescription()
	answer, err := p.signaling.SendOffer(ctx, config.OfferURL, config.CameraID,
		domain.SessionDescription{SDP: local.SDP, Type: local.Type.String()})
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.logger.Info("Answer applied, streaming", "camera_id", config.CameraID, "server", config.OfferURL)

	select {
	case <-ctx.Done():
		return nil
	case <-lost:
		return errConnectionLost
	case err := <-ended:
		return err
	}
}
