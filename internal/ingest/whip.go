package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// WHIPTransport is the production Transport: a pion PeerConnection whose offer
// is POSTed to the WHIP endpoint with the stream key as bearer credential.
type WHIPTransport struct {
	httpClient *http.Client
	iceServers []webrtc.ICEServer
	log        *zap.Logger

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	endpoint string
	key      string
}

// NewWHIPTransport creates a WHIP transport with the given ICE servers.
func NewWHIPTransport(httpClient *http.Client, iceServers []webrtc.ICEServer, log *zap.Logger) *WHIPTransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return &WHIPTransport{httpClient: httpClient, iceServers: iceServers, log: log}
}

// Connect creates the peer connection. The SDP exchange happens on the first
// AddTrack-completing negotiate call, triggered by negotiationneeded.
func (t *WHIPTransport) Connect(ctx context.Context, endpoint, streamKey string) error {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: t.iceServers})
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.pc = pc
	t.endpoint = endpoint
	t.key = streamKey
	t.mu.Unlock()
	return nil
}

// AddTrack attaches a local track and (re)negotiates with the WHIP endpoint.
func (t *WHIPTransport) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	t.mu.Lock()
	pc := t.pc
	t.mu.Unlock()
	if pc == nil {
		return nil, fmt.Errorf("not connected")
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	if err := t.negotiate(pc); err != nil {
		return nil, err
	}
	return rtpSender{sender}, nil
}

// negotiate performs the WHIP offer/answer round trip.
func (t *WHIPTransport) negotiate(pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	<-gatherComplete

	t.mu.Lock()
	endpoint, key := t.endpoint, t.key
	t.mu.Unlock()

	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(pc.LocalDescription().SDP))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whip endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  string(body),
	})
}

// Close tears down the peer connection.
func (t *WHIPTransport) Close() error {
	t.mu.Lock()
	pc := t.pc
	t.pc = nil
	t.mu.Unlock()
	if pc == nil {
		return nil
	}
	return pc.Close()
}

type rtpSender struct {
	s *webrtc.RTPSender
}

func (r rtpSender) ReplaceTrack(t webrtc.TrackLocal) error {
	return r.s.ReplaceTrack(t)
}
