package transport

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MIME types carried in media chunks.
const (
	MIMETypePCM  = "audio/pcm"
	MIMETypeJPEG = "image/jpeg"

	ModalityAudio = "AUDIO"
)

// ErrProtocolParse is returned for inbound messages that are not valid units.
var ErrProtocolParse = errors.New("malformed inbound message")

// SetupMessage is the one-time handshake sent right after connecting.
type SetupMessage struct {
	Setup    Setup    `json:"setup"`
	UserInfo UserInfo `json:"userInfo"`
}

// Setup carries the generation settings requested from the backend.
type Setup struct {
	GenerationConfig GenerationConfig `json:"generation_config"`
}

// GenerationConfig selects the reply modalities.
type GenerationConfig struct {
	ResponseModalities []string `json:"response_modalities"`
}

// UserInfo identifies the user and session to the backend.
type UserInfo struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	SessionID string `json:"sessionId"`
}

// MediaChunk is one base64 payload tagged with its MIME type.
type MediaChunk struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// RealtimeInput wraps the media chunks of an outbound unit.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"media_chunks"`
}

// OutboundUnit is the steady-state message: one audio chunk plus, when
// available, the latest screen frame.
type OutboundUnit struct {
	SessionID     string        `json:"sessionId"`
	RealtimeInput RealtimeInput `json:"realtime_input"`
}

// NewOutboundUnit builds a unit. imageB64 may be empty before the first
// frame has been captured, in which case the image chunk is omitted.
func NewOutboundUnit(sessionID, audioB64, imageB64 string) OutboundUnit {
	chunks := []MediaChunk{{MIMEType: MIMETypePCM, Data: audioB64}}
	if imageB64 != "" {
		chunks = append(chunks, MediaChunk{MIMEType: MIMETypeJPEG, Data: imageB64})
	}
	return OutboundUnit{
		SessionID:     sessionID,
		RealtimeInput: RealtimeInput{MediaChunks: chunks},
	}
}

func newSetupMessage(info UserInfo) SetupMessage {
	return SetupMessage{
		Setup: Setup{
			GenerationConfig: GenerationConfig{ResponseModalities: []string{ModalityAudio}},
		},
		UserInfo: info,
	}
}

// InboundKind tags which fields an inbound unit carries.
type InboundKind int

const (
	InboundEmpty InboundKind = iota
	InboundText
	InboundAudio
	InboundBoth
)

func (k InboundKind) String() string {
	switch k {
	case InboundText:
		return "text"
	case InboundAudio:
		return "audio"
	case InboundBoth:
		return "both"
	default:
		return "empty"
	}
}

// InboundUnit is a parsed server reply.
type InboundUnit struct {
	Kind  InboundKind
	Text  string
	Audio string
}

type inboundWire struct {
	Text  *string `json:"text"`
	Audio *string `json:"audio"`
	// AudioData is the field name used by older backends.
	AudioData *string `json:"audioData"`
}

// ParseInbound decodes a server message into a tagged unit.
func ParseInbound(raw []byte) (InboundUnit, error) {
	var w inboundWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return InboundUnit{}, fmt.Errorf("%w: %v", ErrProtocolParse, err)
	}

	var u InboundUnit
	if w.Text != nil {
		u.Text = *w.Text
	}
	switch {
	case w.Audio != nil:
		u.Audio = *w.Audio
	case w.AudioData != nil:
		u.Audio = *w.AudioData
	}

	hasText, hasAudio := u.Text != "", u.Audio != ""
	switch {
	case hasText && hasAudio:
		u.Kind = InboundBoth
	case hasText:
		u.Kind = InboundText
	case hasAudio:
		u.Kind = InboundAudio
	default:
		u.Kind = InboundEmpty
	}
	return u, nil
}
