package discord

import (
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"layeh.com/gopus"
)

// Discord voice frames: 20ms of 48kHz stereo s16le.
const (
	frameSamples = 960
	frameBytes   = frameSamples * 2 * 2
	maxOpusBytes = 3840

	sendTimeout = time.Second
)

// notReadyError reports a transient send failure: the connection exists
// but cannot accept audio right now. Satisfies the Temporary contract so
// callers can distinguish it from a dead connection.
type notReadyError struct{ msg string }

func (e *notReadyError) Error() string   { return e.msg }
func (e *notReadyError) Temporary() bool { return true }

// VoiceConn relays PCM into a voice channel. Write accepts interleaved
// little-endian 16-bit stereo PCM at 48kHz, encodes complete 20ms frames
// to opus, and ships them to Discord.
type VoiceConn struct {
	conn   *discordgo.VoiceConnection
	enc    *gopus.Encoder
	logger *slog.Logger

	buf []byte
	pcm []int16
}

func newVoiceConn(vc *discordgo.VoiceConnection, logger *slog.Logger) (*VoiceConn, error) {
	enc, err := gopus.NewEncoder(48000, 2, gopus.Audio)
	if err != nil {
		_ = vc.Disconnect()
		return nil, errors.Wrap(err, "failed to create opus encoder")
	}

	if err := vc.Speaking(true); err != nil {
		_ = vc.Disconnect()
		return nil, errors.Wrap(err, "failed to set speaking")
	}

	return &VoiceConn{
		conn:   vc,
		enc:    enc,
		logger: logger,
		buf:    make([]byte, 0, frameBytes*2),
		pcm:    make([]int16, frameSamples*2),
	}, nil
}

// Write buffers p and sends every complete frame. A transient inability to
// send (connection not ready, send queue full) is reported as a Temporary
// error; the frame window is dropped rather than queued unboundedly.
func (v *VoiceConn) Write(p []byte) (int, error) {
	v.buf = append(v.buf, p...)

	for len(v.buf) >= frameBytes {
		frame := v.buf[:frameBytes]
		v.buf = v.buf[frameBytes:]

		if err := v.sendFrame(frame); err != nil {
			return len(p), err
		}
	}

	return len(p), nil
}

func (v *VoiceConn) sendFrame(frame []byte) error {
	if !v.conn.Ready {
		return &notReadyError{msg: "voice connection not ready"}
	}

	for i := range v.pcm {
		v.pcm[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}

	opus, err := v.enc.Encode(v.pcm, frameSamples, maxOpusBytes)
	if err != nil {
		return errors.Wrap(err, "failed to encode frame")
	}

	select {
	case v.conn.OpusSend <- opus:
		return nil
	case <-time.After(sendTimeout):
		return &notReadyError{msg: "voice send queue stalled"}
	}
}

// Close stops speaking and destroys the connection.
func (v *VoiceConn) Close() error {
	if err := v.conn.Speaking(false); err != nil {
		v.logger.Debug("failed to clear speaking state", "err", err)
	}

	return v.conn.Disconnect()
}
