package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/theimaginaryfoundation/jarvis/logging"
)

const (
	PlaybackSuccess     = "success"
	PlaybackError       = "error"
	PlaybackUnavailable = "unavailable"
)

// PlaybackResult is what a playback attempt reports back to the caller.
type PlaybackResult struct {
	Status  string `json:"status"`
	Device  string `json:"device,omitempty"`
	Message string `json:"message"`
	Track   *Track `json:"track,omitempty"`
}

// ChooseDevice picks the active device, else the first one. No devices is ErrNoDevices.
func ChooseDevice(devices []Device) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoDevices
	}
	for _, d := range devices {
		if d.Active {
			return d, nil
		}
	}
	return devices[0], nil
}

var musicMessages = []struct {
	emotions []string
	message  string
}{
	{[]string{"joy", "happy", "excited", "euphoric", "elated", "cheerful", "delighted"}, "This upbeat music will amplify your positive energy and support your joyful state!"},
	{[]string{"calm", "peaceful", "serene", "tranquil", "relaxed"}, "This soothing music will deepen your sense of peace and tranquility!"},
	{[]string{"sad", "sadness", "melancholy", "sorrowful", "depressed", "lonely"}, "This reflective music provides a safe space to process and honor your feelings!"},
	{[]string{"anxious", "anxiety", "stressed", "worried", "nervous", "apprehension", "fearful"}, "This calming music will help regulate your nervous system and ease tension!"},
	{[]string{"nostalgic", "reminiscent", "wistful", "sentimental"}, "This music will honor your memories and provide comfort in reflection!"},
	{[]string{"confusion", "gratitude", "loneliness", "overwhelm"}, "This music will support you through the complexity of your emotional experience!"},
}

// MusicMessage is the supportive line shown next to a started playlist.
func MusicMessage(emotion, playlist string) string {
	e := normalizeEmotion(emotion)
	for _, m := range musicMessages {
		for _, x := range m.emotions {
			if x == e {
				return m.message
			}
		}
	}
	return fmt.Sprintf("This %s music will support your %s experience!", playlist, emotion)
}

// Music drives a Player. A nil player makes every attempt report "unavailable".
type Music struct {
	player Player
	log    *logging.Logger
}

func NewMusic(player Player, log *logging.Logger) *Music {
	if log == nil {
		log = logging.Nop()
	}
	return &Music{player: player, log: log.With("component", "music")}
}

func (m *Music) Configured() bool { return m != nil && m.player != nil }

// PlayPlaylist shuffles and starts playlist on the chosen device.
func (m *Music) PlayPlaylist(ctx context.Context, emotion string, playlist Candidate) (PlaybackResult, error) {
	if !m.Configured() {
		return PlaybackResult{Status: PlaybackUnavailable, Message: "Music playback is not configured."}, E(KindPlayback, "play playlist", ErrNotConfigured)
	}
	if playlist.URI == "" {
		return PlaybackResult{Status: PlaybackError, Message: fmt.Sprintf("Playlist %q has no playback URI.", playlist.ID)},
			E(KindPlayback, "play playlist", fmt.Errorf("playlist %q has no uri", playlist.ID))
	}
	dev, res, err := m.device(ctx)
	if err != nil {
		return res, err
	}
	if err := m.player.Play(ctx, dev.ID, PlaybackTarget{PlaylistURI: playlist.URI, Shuffle: true}); err != nil {
		return m.failure(err, dev), E(KindPlayback, "play playlist", err)
	}
	m.log.Info("playlist started", "playlist", playlist.ID, "device", dev.Name)
	return PlaybackResult{Status: PlaybackSuccess, Device: dev.Name, Message: MusicMessage(emotion, playlist.ID)}, nil
}

// PlayTrack searches for query and plays the first matching track.
func (m *Music) PlayTrack(ctx context.Context, query string) (PlaybackResult, error) {
	if !m.Configured() {
		return PlaybackResult{Status: PlaybackUnavailable, Message: "Music playback is not configured."}, E(KindPlayback, "play track", ErrNotConfigured)
	}
	if strings.TrimSpace(query) == "" {
		return PlaybackResult{Status: PlaybackError, Message: "Song name is required."}, E(KindPlayback, "play track", errors.New("empty query"))
	}
	tracks, err := m.player.Search(ctx, query, "track", 10)
	if err != nil {
		return m.failure(err, Device{}), E(KindPlayback, "search track", err)
	}
	if len(tracks) == 0 {
		return PlaybackResult{Status: PlaybackError, Message: fmt.Sprintf("No tracks found for %q.", query)}, E(KindPlayback, "search track", errors.New("no results"))
	}
	dev, res, err := m.device(ctx)
	if err != nil {
		return res, err
	}
	t := tracks[0]
	if err := m.player.Play(ctx, dev.ID, PlaybackTarget{TrackURIs: []string{t.URI}}); err != nil {
		return m.failure(err, dev), E(KindPlayback, "play track", err)
	}
	msg := fmt.Sprintf("Now playing %s", t.Name)
	if t.Artist != "" {
		msg += " by " + t.Artist
	}
	return PlaybackResult{Status: PlaybackSuccess, Device: dev.Name, Message: msg, Track: &t}, nil
}

func (m *Music) device(ctx context.Context) (Device, PlaybackResult, error) {
	devices, err := m.player.Devices(ctx)
	if err != nil {
		return Device{}, m.failure(err, Device{}), E(KindPlayback, "list devices", err)
	}
	dev, err := ChooseDevice(devices)
	if err != nil {
		return Device{}, PlaybackResult{
			Status:  PlaybackError,
			Message: "No active device found. Open Spotify on your phone or computer and start playing any song, then try again.",
		}, E(KindPlayback, "choose device", err)
	}
	return dev, PlaybackResult{}, nil
}

func (m *Music) failure(err error, dev Device) PlaybackResult {
	m.log.Warn("playback failed", "err", err)
	return PlaybackResult{Status: PlaybackError, Device: dev.Name, Message: PlaybackReason(err)}
}

// PlaybackReason turns a provider error into something a user can act on.
func PlaybackReason(err error) string {
	if errors.Is(err, ErrNoDevices) {
		return "No active device found."
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "invalid_client"):
		return "Invalid Spotify credentials. Check the client id and secret."
	case strings.Contains(s, "premium"), strings.Contains(s, "403"):
		return "Playback requires a Spotify Premium account."
	case strings.Contains(s, "unauthorized"), strings.Contains(s, "401"), strings.Contains(s, "invalid_grant"):
		return "Spotify authorization failed. Re-authorize the application."
	case strings.Contains(s, "circuit breaker"):
		return "Music service is temporarily unavailable."
	default:
		return "Music playback failed: " + err.Error()
	}
}
