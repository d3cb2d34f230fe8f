// Package discord plays the speech stream into a Discord voice channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"

	"github.com/dgnsrekt/voxline/internal/audio"
	"github.com/dgnsrekt/voxline/internal/playback"
)

const (
	// Discord voice is 48 kHz stereo, sent as 20 ms Opus frames.
	sampleRate = 48000
	channels   = 2
	frameSize  = 960
	frameBytes = frameSize * channels * 2

	// voiceConnectTimeout is the maximum time to wait for voice connection readiness.
	voiceConnectTimeout = 10 * time.Second
	// voiceConnectPollInterval is the polling interval while waiting for connection.
	voiceConnectPollInterval = 100 * time.Millisecond
	// frameDuration is the duration of one Discord audio frame (20ms).
	frameDuration = 20 * time.Millisecond
	// maxOpusDataBytes is the maximum size of an encoded Opus frame.
	maxOpusDataBytes = 4000
)

var (
	// ErrNotConnected is returned when trying to send audio while not connected.
	ErrNotConnected = errors.New("not connected to voice channel")
	// ErrConnectionFailed is returned when voice connection fails.
	ErrConnectionFailed = errors.New("failed to connect to voice channel")
)

// voiceConn is the part of *discordgo.VoiceConnection the manager drives.
type voiceConn interface {
	Speaking(b bool) error
	Disconnect() error
}

// VoiceManager is a playback.Sink backed by a Discord voice connection. It
// joins the configured channel on the first Feed and leaves it when the
// queue goes idle.
type VoiceManager struct {
	mu        sync.Mutex
	session   *discordgo.Session
	conn      voiceConn
	opusSend  chan<- []byte
	guildID   string
	channelID string
	logger    *slog.Logger
	connected bool
	encode    func(pcm []int16) ([]byte, error)

	stopMu  sync.Mutex
	stopCh  chan struct{}
	paused  bool
	resume  chan struct{}
	sending bool
	closed  bool
}

// NewVoiceManager creates a voice manager for one guild channel.
func NewVoiceManager(token, guildID, channelID string, logger *slog.Logger) (*VoiceManager, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, err
	}

	vm := newVoiceManager(guildID, channelID, logger)
	vm.session = session
	vm.encode = func(pcm []int16) ([]byte, error) {
		return encoder.Encode(pcm, frameSize, maxOpusDataBytes)
	}
	return vm, nil
}

func newVoiceManager(guildID, channelID string, logger *slog.Logger) *VoiceManager {
	resume := make(chan struct{})
	close(resume)
	return &VoiceManager{
		guildID:   guildID,
		channelID: channelID,
		logger:    logger,
		stopCh:    make(chan struct{}),
		resume:    resume,
	}
}

// Open opens the Discord session.
func (vm *VoiceManager) Open() error {
	if err := vm.session.Open(); err != nil {
		return fmt.Errorf("%w: open discord session: %v", playback.ErrDeviceUnavailable, err)
	}
	return nil
}

// Connect joins the configured voice channel.
func (vm *VoiceManager) Connect(ctx context.Context) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.connected && vm.conn != nil {
		return nil
	}

	vm.logger.Info("connecting to voice channel", "guild_id", vm.guildID, "channel_id", vm.channelID)

	// Join voice channel (mute=false, deaf=true - we don't need to hear)
	vc, err := vm.session.ChannelVoiceJoin(vm.guildID, vm.channelID, false, true)
	if err != nil {
		return errors.Join(ErrConnectionFailed, err)
	}

	// discordgo's Ready is a bool, so we poll with timeout
	deadline := time.Now().Add(voiceConnectTimeout)
	for !vc.Ready {
		if ctx.Err() != nil {
			vc.Disconnect()
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			vc.Disconnect()
			return ErrConnectionFailed
		}
		time.Sleep(voiceConnectPollInterval)
	}

	vm.conn = vc
	vm.opusSend = vc.OpusSend
	vm.connected = true
	vm.logger.Info("connected to voice channel")
	return nil
}

// Disconnect leaves the voice channel.
func (vm *VoiceManager) Disconnect() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if vm.conn == nil {
		return nil
	}

	vm.logger.Info("disconnecting from voice channel")
	err := vm.conn.Disconnect()
	vm.conn = nil
	vm.opusSend = nil
	vm.connected = false
	return err
}

// IsConnected returns whether the bot is connected to voice.
func (vm *VoiceManager) IsConnected() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.connected && vm.conn != nil
}

// Feed upsamples pcm to 48 kHz stereo and sends it as paced Opus frames.
// It connects first when needed.
func (vm *VoiceManager) Feed(ctx context.Context, pcm []byte) error {
	stop, err := vm.beginSend()
	if err != nil {
		return err
	}
	defer vm.endSend()

	if !vm.IsConnected() && vm.session != nil {
		if err := vm.Connect(ctx); err != nil {
			return err
		}
	}

	vm.mu.Lock()
	conn, send, connected := vm.conn, vm.opusSend, vm.connected
	vm.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	if err := conn.Speaking(true); err != nil {
		vm.logger.Error("failed to set speaking state", "error", err)
	}
	defer func() {
		if err := conn.Speaking(false); err != nil {
			vm.logger.Error("failed to clear speaking state", "error", err)
		}
	}()

	frames := audio.NewPCMFrameReader(audio.UpsampleMonoToStereo(pcm), frameBytes)

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		if err := vm.waitResume(ctx, stop); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return playback.ErrStopped
		case <-ticker.C:
		}

		frame, err := frames.ReadPartial()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		opus, err := vm.encode(audio.Int16s(frame))
		if err != nil {
			vm.logger.Error("opus encoding failed", "error", err)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return playback.ErrStopped
		case send <- opus:
		}
	}
}

// Idle returns immediately: Feed paces frames in real time, so the audio
// has been sent by the time it returns.
func (vm *VoiceManager) Idle(ctx context.Context) error {
	return ctx.Err()
}

// Stop aborts the frame loop of the current Feed.
func (vm *VoiceManager) Stop() error {
	vm.stopMu.Lock()
	defer vm.stopMu.Unlock()
	if vm.closed {
		return nil
	}
	close(vm.stopCh)
	vm.stopCh = make(chan struct{})
	return nil
}

// Pause holds the frame loop until resumed.
func (vm *VoiceManager) Pause(paused bool) error {
	vm.stopMu.Lock()
	defer vm.stopMu.Unlock()
	if paused == vm.paused {
		return nil
	}
	vm.paused = paused
	if paused {
		vm.resume = make(chan struct{})
	} else {
		close(vm.resume)
	}
	return nil
}

// Playing reports whether a Feed is sending frames.
func (vm *VoiceManager) Playing() bool {
	vm.stopMu.Lock()
	defer vm.stopMu.Unlock()
	return vm.sending && !vm.paused
}

// Close leaves the voice channel and closes the Discord session.
func (vm *VoiceManager) Close() error {
	vm.stopMu.Lock()
	if !vm.closed {
		vm.closed = true
		close(vm.stopCh)
	}
	vm.stopMu.Unlock()

	err := vm.Disconnect()
	if vm.session != nil {
		err = errors.Join(err, vm.session.Close())
	}
	return err
}

func (vm *VoiceManager) beginSend() (<-chan struct{}, error) {
	vm.stopMu.Lock()
	defer vm.stopMu.Unlock()
	if vm.closed {
		return nil, playback.ErrSinkClosed
	}
	vm.sending = true
	return vm.stopCh, nil
}

func (vm *VoiceManager) endSend() {
	vm.stopMu.Lock()
	defer vm.stopMu.Unlock()
	vm.sending = false
}

func (vm *VoiceManager) waitResume(ctx context.Context, stop <-chan struct{}) error {
	vm.stopMu.Lock()
	resume := vm.resume
	vm.stopMu.Unlock()

	select {
	case <-resume:
		return nil
	case <-stop:
		return playback.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
