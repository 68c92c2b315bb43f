// Package webrtc adapts pion/webrtc to the session pipeline: the server side
// negotiator that receives camera tracks and the camera node publisher.
package webrtc

import (
	"context"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/2vyy/qt-camera-dashboard/internal/application"
	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// Negotiator answers camera offers with receive-only peer connections
type Negotiator struct {
	api    *webrtc.API
	config webrtc.Configuration
	logger application.Logger
}

// NewNegotiator creates a negotiator supporting the default codecs and interceptors
func NewNegotiator(iceServers []string, logger application.Logger) (*Negotiator, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return &Negotiator{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(registry)),
		config: Configuration(iceServers),
		logger: logger,
	}, nil
}

// Configuration builds a peer connection configuration from STUN/TURN URLs
func Configuration(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

// Negotiate implements application.Negotiator. The answer is returned once
// ICE gathering is complete, so no trickle signaling is needed.
func (n *Negotiator) Negotiate(ctx context.Context, cameraID domain.CameraID, offer domain.SessionDescription, events application.PeerEvents) (domain.SessionDescription, application.Peer, error) {
	if offer.Type != webrtc.SDPTypeOffer.String() {
		return domain.SessionDescription{}, nil, fmt.Errorf("expected sdp type offer, got %q", offer.Type)
	}

	pc, err := n.api.NewPeerConnection(n.config)
	if err != nil {
		return domain.SessionDescription{}, nil, fmt.Errorf("create peer connection: %w", err)
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			n.logger.Debug("Ignoring non-video track", "camera_id", cameraID, "kind", track.Kind().String())
			return
		}
		source, err := NewTrackSource(cameraID, track, pc.WriteRTCP, n.logger)
		if err != nil {
			n.logger.Error("Failed to decode video track", "camera_id", cameraID, "error", err)
			if events.OnState != nil {
				events.OnState(domain.StateFailed)
			}
			return
		}
		if events.OnTrack != nil {
			events.OnTrack(source)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.logger.Debug("Peer connection state", "camera_id", cameraID, "state", state.String())
		if mapped, ok := connectionState(state); ok && events.OnState != nil {
			events.OnState(mapped)
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		pc.Close()
		return domain.SessionDescription{}, nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return domain.SessionDescription{}, nil, fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return domain.SessionDescription{}, nil, fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		pc.Close()
		return domain.SessionDescription{}, nil, ctx.Err()
	}

	local := pc.LocalDescription()
	return domain.SessionDescription{SDP: local.SDP, Type: local.Type.String()}, &peer{pc: pc}, nil
}

// connectionState maps pion states onto the camera lifecycle. Disconnected
// may still recover and is not reported.
func connectionState(state webrtc.PeerConnectionState) (domain.ConnectionState, bool) {
	switch state {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		return domain.StateNegotiating, true
	case webrtc.PeerConnectionStateConnected:
		return domain.StateConnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.StateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return domain.StateClosed, true
	default:
		return domain.StateIdle, false
	}
}

type peer struct {
	pc *webrtc.PeerConnection
}

func (p *peer) Close() error {
	return p.pc.Close()
}
