package transport

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseInbound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		raw   string
		kind  InboundKind
		text  string
		audio string
	}{
		{name: "text only", raw: `{"text":"hi"}`, kind: InboundText, text: "hi"},
		{name: "audio only", raw: `{"audio":"AAEC"}`, kind: InboundAudio, audio: "AAEC"},
		{name: "legacy audio field", raw: `{"audioData":"AAEC"}`, kind: InboundAudio, audio: "AAEC"},
		{name: "both", raw: `{"text":"hi","audio":"AAEC"}`, kind: InboundBoth, text: "hi", audio: "AAEC"},
		{name: "audio wins over legacy", raw: `{"audio":"NEW","audioData":"OLD"}`, kind: InboundAudio, audio: "NEW"},
		{name: "empty object", raw: `{}`, kind: InboundEmpty},
		{name: "empty strings", raw: `{"text":"","audio":""}`, kind: InboundEmpty},
		{name: "unknown fields", raw: `{"turn_complete":true}`, kind: InboundEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u, err := ParseInbound([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseInbound() error = %v", err)
			}
			if u.Kind != tt.kind || u.Text != tt.text || u.Audio != tt.audio {
				t.Errorf("ParseInbound() = %+v, want kind=%s text=%q audio=%q", u, tt.kind, tt.text, tt.audio)
			}
		})
	}
}

func TestParseInboundMalformed(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{`not json`, `{"text":`, `{"text":42}`, `[1,2]`} {
		if _, err := ParseInbound([]byte(raw)); !errors.Is(err, ErrProtocolParse) {
			t.Errorf("ParseInbound(%q) error = %v, want ErrProtocolParse", raw, err)
		}
	}
}

func TestNewOutboundUnitOmitsMissingImage(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(NewOutboundUnit("s1", "AAAA", ""))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := string(data)
	want := `{"sessionId":"s1","realtime_input":{"media_chunks":[{"mime_type":"audio/pcm","data":"AAAA"}]}}`
	if got != want {
		t.Errorf("unit = %s\nwant %s", got, want)
	}
	if strings.Contains(got, MIMETypeJPEG) {
		t.Error("image chunk present without a frame")
	}
}

func TestSetupMessageShape(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(newSetupMessage(UserInfo{UserID: "u", UserName: "n", SessionID: "s"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"setup":{"generation_config":{"response_modalities":["AUDIO"]}},"userInfo":{"userId":"u","userName":"n","sessionId":"s"}}`
	if string(data) != want {
		t.Errorf("setup = %s\nwant %s", data, want)
	}
}
