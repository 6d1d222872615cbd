// Package station implements the station playback controller: it turns an
// unreliable upstream radio stream into a self-healing voice-channel
// broadcast.
package station

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zachfi/airband/pkg/radiobrowser"
)

var module = "station"

// ErrBusy is returned when a start for a voice channel arrives while a
// previous start or teardown for the same channel is still in progress.
var ErrBusy = errors.New("another start is in progress for this channel")

var (
	metricSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "airband", Subsystem: module, Name: "sessions_started_total",
		Help: "Playback sessions successfully started.",
	})
	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "airband", Subsystem: module, Name: "reconnect_attempts_total",
		Help: "Reconnect attempts after a session reached its terminal state.",
	})
	metricResolveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "airband", Subsystem: module, Name: "resolve_failures_total",
		Help: "Directory lookups that produced no playable station.",
	})
	metricGiveUps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "airband", Subsystem: module, Name: "give_ups_total",
		Help: "Requests abandoned after exhausting reconnect attempts.",
	})
	metricFramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "airband", Subsystem: module, Name: "frames_sent_total",
		Help: "PCM frames relayed to voice connections.",
	})
	metricPCMBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "airband", Subsystem: module, Name: "pcm_bytes_total",
		Help: "PCM bytes read from transcoder processes.",
	})
)

// Resolver finds stations in the external directory.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*radiobrowser.Station, error)
	ResolveStreamURL(ctx context.Context, streamURL string) (string, error)
}

// Process is a live transcoder owned by exactly one session.
type Process interface {
	Output() io.Reader
	Done() <-chan struct{}
	Err() error
	Stop()
}

// Transcoder spawns transcoder processes.
type Transcoder interface {
	Start(ctx context.Context, streamURL string) (Process, error)
}

// Voice joins voice channels. The returned writer accepts raw s16le PCM;
// Close destroys the connection.
type Voice interface {
	Join(ctx context.Context, channelID string) (io.WriteCloser, error)
}

// Notifier delivers best-effort announcements.
type Notifier interface {
	Notify(ctx context.Context, channelID, message string) error
}

// Request is the immutable unit of work the reconnection supervisor
// retries: play this station into this channel.
type Request struct {
	Station           string
	VoiceChannelID    string
	AnnounceChannelID string
}

// Status describes one active playback for operators.
type Status struct {
	Station        string
	VoiceChannelID string
	State          PlayerState
	Reason         string
}

// playback tracks one Request through its session restarts.
type playback struct {
	req    Request
	ctx    context.Context
	cancel context.CancelFunc
	active atomic.Bool
	done   chan struct{}

	mu   sync.Mutex
	sess *session
}

func (pb *playback) setSession(sess *session) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.sess = sess
}

func (pb *playback) session() *session {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.sess
}

// Station is the playback controller service.
type Station struct {
	services.Service
	cfg    *Config
	logger *slog.Logger

	resolver   Resolver
	transcoder Transcoder
	voice      Voice
	notifier   Notifier

	mu        sync.Mutex
	playbacks map[string]*playback // keyed by voice channel ID
}

// New creates the controller with its collaborators.
func New(cfg Config, logger slog.Logger, resolver Resolver, transcoder Transcoder, voice Voice, notifier Notifier) (*Station, error) {
	if resolver == nil || transcoder == nil || voice == nil || notifier == nil {
		return nil, errors.New("station requires resolver, transcoder, voice and notifier")
	}

	s := &Station{
		cfg:        &cfg,
		logger:     logger.With("module", module),
		resolver:   resolver,
		transcoder: transcoder,
		voice:      voice,
		notifier:   notifier,
		playbacks:  make(map[string]*playback),
	}

	s.Service = services.NewBasicService(s.starting, s.running, s.stopping)

	return s, nil
}

func (s *Station) starting(ctx context.Context) error {
	return nil
}

func (s *Station) running(ctx context.Context) error {
	if s.cfg.Station != "" && s.cfg.VoiceChannelID != "" {
		req := Request{
			Station:           s.cfg.Station,
			VoiceChannelID:    s.cfg.VoiceChannelID,
			AnnounceChannelID: s.cfg.AnnounceChannelID,
		}

		// Playback errors never take the process down; nothing plays and
		// the operator reads about it here.
		if err := s.Play(ctx, req); err != nil {
			if errors.Is(err, radiobrowser.ErrNotFound) {
				s.logger.Warn("could not find a station with that name", "station", req.Station)
			} else {
				s.logger.Error("error starting station playback", "station", req.Station, "err", err)
			}
		}
	}

	<-ctx.Done()
	return nil
}

func (s *Station) stopping(_ error) error {
	s.logger.Info("stopping")

	s.mu.Lock()
	pbs := make([]*playback, 0, len(s.playbacks))
	for _, pb := range s.playbacks {
		pbs = append(pbs, pb)
	}
	s.mu.Unlock()

	for _, pb := range pbs {
		s.stopPlayback(pb)
	}

	return nil
}

// Play resolves the station and starts broadcasting into the request's
// voice channel. If a playback is already live on that channel the new
// request wins: the old one is stopped and fully torn down first, so at
// most one voice connection and one transcoder exist per channel.
func (s *Station) Play(ctx context.Context, req Request) error {
	if req.Station == "" || req.VoiceChannelID == "" {
		return errors.New("station name and voice channel ID are required")
	}

	if prev := s.lookup(req.VoiceChannelID); prev != nil {
		s.logger.Info("pre-empting active playback", "channel", req.VoiceChannelID, "station", prev.req.Station)
		s.stopPlayback(prev)
	}

	pbCtx, cancel := context.WithCancel(context.Background())
	pb := &playback{
		req:    req,
		ctx:    pbCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	pb.active.Store(true)

	s.mu.Lock()
	if _, exists := s.playbacks[req.VoiceChannelID]; exists {
		s.mu.Unlock()
		cancel()
		return ErrBusy
	}
	s.playbacks[req.VoiceChannelID] = pb
	s.mu.Unlock()

	sess, err := s.startSession(pb.ctx, req)
	if err != nil {
		s.remove(pb)
		cancel()
		close(pb.done)
		return err
	}

	pb.setSession(sess)
	go s.supervise(pb, sess)

	return nil
}

// Stop ends playback on a voice channel. The request is marked inactive
// before teardown begins, so the terminal transition cannot race the
// supervisor into a reconnect.
func (s *Station) Stop(ctx context.Context, voiceChannelID string) error {
	pb := s.lookup(voiceChannelID)
	if pb == nil {
		return nil
	}

	s.stopPlayback(pb)

	return nil
}

// Pause suspends sending on a channel; the upstream keeps being drained.
func (s *Station) Pause(voiceChannelID string) {
	if pb := s.lookup(voiceChannelID); pb != nil {
		if sess := pb.session(); sess != nil {
			sess.pause()
		}
	}
}

// Resume continues a paused playback.
func (s *Station) Resume(voiceChannelID string) {
	if pb := s.lookup(voiceChannelID); pb != nil {
		if sess := pb.session(); sess != nil {
			sess.resume()
		}
	}
}

// Statuses reports all active playbacks, ordered by channel ID.
func (s *Station) Statuses() []Status {
	s.mu.Lock()
	pbs := make([]*playback, 0, len(s.playbacks))
	for _, pb := range s.playbacks {
		pbs = append(pbs, pb)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(pbs))
	for _, pb := range pbs {
		st := Status{Station: pb.req.Station, VoiceChannelID: pb.req.VoiceChannelID}
		if sess := pb.session(); sess != nil {
			st.State, st.Reason = sess.status()
		}
		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].VoiceChannelID < out[j].VoiceChannelID })

	return out
}

// startSession performs one playback attempt: resolve by name, resolve any
// playlist indirection, join voice, spawn the transcoder, start the pump,
// and announce. Resolution failures of any kind collapse to ErrNotFound;
// a spawn failure surfaces distinctly.
func (s *Station) startSession(ctx context.Context, req Request) (*session, error) {
	st, err := s.resolver.Resolve(ctx, req.Station)
	if err != nil {
		metricResolveFailures.Inc()
		if !errors.Is(err, radiobrowser.ErrNotFound) {
			s.logger.Warn("directory lookup failed", "station", req.Station, "err", err)
		}
		return nil, radiobrowser.ErrNotFound
	}

	streamURL, err := s.resolver.ResolveStreamURL(ctx, st.StreamURL())
	if err != nil {
		metricResolveFailures.Inc()
		s.logger.Warn("failed to resolve stream URL", "station", st.Name, "url", st.StreamURL(), "err", err)
		return nil, radiobrowser.ErrNotFound
	}

	s.logger.Info("found station", "station", st.Name, "url", streamURL)

	conn, err := s.voice.Join(ctx, req.VoiceChannelID)
	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel %s: %w", req.VoiceChannelID, err)
	}

	proc, err := s.transcoder.Start(ctx, streamURL)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger := s.logger.With("station", st.Name, "channel", req.VoiceChannelID)
	sess := newSession(ctx, logger, proc, conn, s.cfg.FirstByteTimeout, func(t Transition) {
		logger.Info("player state change", "from", t.From.String(), "to", t.To.String(), "reason", t.Reason)
	})

	metricSessionsStarted.Inc()
	s.announce(ctx, req)

	return sess, nil
}

// announce fires the now-playing notification. Best-effort: an absent
// channel is a no-op and failures never reach the session.
func (s *Station) announce(ctx context.Context, req Request) {
	if req.AnnounceChannelID == "" {
		return
	}

	message := fmt.Sprintf("Now playing: **%s**", req.Station)
	if err := s.notifier.Notify(ctx, req.AnnounceChannelID, message); err != nil {
		s.logger.Warn("error sending announcement", "channel", req.AnnounceChannelID, "err", err)
	}
}

// supervise watches a playback's sessions. Each terminal state, while the
// request is still active, triggers a fresh resolution by name (the
// upstream catalog rotates URLs) and a new session, under bounded backoff.
func (s *Station) supervise(pb *playback, sess *session) {
	defer func() {
		s.remove(pb)
		close(pb.done)
	}()

	bo := backoff.New(pb.ctx, s.cfg.backoffConfig())

	for {
		sess.wait()

		if !pb.active.Load() {
			return
		}

		if sess.healthyFor(s.cfg.HealthyInterval) {
			bo.Reset()
		}

		_, reason := sess.status()
		s.logger.Info("playback ended, attempting to reconnect", "station", pb.req.Station, "reason", reason)

		var next *session
		for next == nil && bo.Ongoing() {
			bo.Wait()

			if !pb.active.Load() {
				return
			}

			metricReconnects.Inc()

			n, err := s.startSession(pb.ctx, pb.req)
			if err != nil {
				s.logger.Warn("reconnect attempt failed", "station", pb.req.Station, "attempt", bo.NumRetries(), "err", err)
				continue
			}
			next = n
		}

		if next == nil {
			metricGiveUps.Inc()
			s.logger.Error("giving up on station playback", "station", pb.req.Station, "attempts", bo.NumRetries())
			return
		}

		if !pb.active.Load() {
			next.stop()
			return
		}

		pb.setSession(next)
		sess = next
	}
}

func (s *Station) lookup(voiceChannelID string) *playback {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.playbacks[voiceChannelID]
}

func (s *Station) remove(pb *playback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.playbacks[pb.req.VoiceChannelID] == pb {
		delete(s.playbacks, pb.req.VoiceChannelID)
	}
}

func (s *Station) stopPlayback(pb *playback) {
	pb.active.Store(false)
	pb.cancel()

	if sess := pb.session(); sess != nil {
		sess.stop()
	}

	<-pb.done
}
