package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/phantomtrack/internal/audio"
)

// WebRTCHandler answers SDP offers and plays one result to the peer as Opus.
type WebRTCHandler struct {
	source Source
	logger *zap.Logger

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]context.CancelFunc
}

// NewWebRTCHandler creates a WebRTC stream handler.
func NewWebRTCHandler(source Source, logger *zap.Logger) *WebRTCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebRTCHandler{
		source: source,
		logger: logger.With(zap.String("component", "stream_webrtc")),
		peers:  make(map[*webrtc.PeerConnection]context.CancelFunc),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	id := resultID(r)
	wave, err := h.source.Waveform(id)
	if err != nil {
		http.Error(w, "result not found", http.StatusNotFound)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.SDP == "" {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"phantomtrack-"+id,
	)
	if err != nil {
		pc.Close()
		http.Error(w, "create audio track failed", http.StatusInternalServerError)
		return
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}

	// Wait for ICE gathering to complete
	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-r.Context().Done():
		pc.Close()
		return
	}

	// The peer outlives the signalling request.
	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.peers[pc] = cancel
	h.mu.Unlock()
	h.logger.Info("peer connected", zap.String("id", id), zap.Int("peers", h.PeerCount()))

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.removePeer(pc)
		}
	})

	go func() {
		h.streamToPeer(ctx, wave, track)
		h.removePeer(pc)
	}()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (h *WebRTCHandler) streamToPeer(ctx context.Context, wave audio.Waveform, track *webrtc.TrackLocalStaticSample) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		h.logger.Error("opus encoder", zap.Error(err))
		return
	}
	enc.SetBitrate(128000)

	player := audio.NewPlayer(wave)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go player.Run(runCtx)

	opusBuf := make([]byte, 4000)
	for frame := range player.Frames() {
		n, err := enc.Encode(frame, opusBuf)
		if err != nil {
			h.logger.Warn("opus encode", zap.Error(err))
			continue
		}
		if err := track.WriteSample(media.Sample{
			Data:     opusBuf[:n],
			Duration: audio.FrameDuration,
		}); err != nil {
			return
		}
	}
}

// removePeer stops playback and closes pc. Safe to call more than once.
func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	cancel, ok := h.peers[pc]
	delete(h.peers, pc)
	remaining := len(h.peers)
	h.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	pc.Close()
	h.logger.Info("peer disconnected", zap.Int("peers", remaining))
}

// Close disconnects every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	pcs := make([]*webrtc.PeerConnection, 0, len(h.peers))
	for pc := range h.peers {
		pcs = append(pcs, pc)
	}
	h.mu.Unlock()
	for _, pc := range pcs {
		h.removePeer(pc)
	}
}
