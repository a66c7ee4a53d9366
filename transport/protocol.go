package transport

// Wire protocol for the duplex recognition channel. Every message is a JSON
// text frame carrying a "type" discriminator; clients send one struct per
// message type and decode server traffic through a single envelope.

const (
	typeSessionStart = "session:start"
	typeAudioChunk   = "audio:chunk"
	typeSessionStop  = "session:stop"
	typePing         = "ping"

	typeSessionStarted    = "session:started"
	typeTranscriptInterim = "transcript:interim"
	typeTranscriptFinal   = "transcript:final"
	typeError             = "error"
	typeSessionStopped    = "session:stopped"
	typePong              = "pong"
)

type sessionStartMsg struct {
	Type       string `json:"type"`
	Language   string `json:"language"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type audioChunkMsg struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId"`
	AudioData  string `json:"audioData"` // base64 PCM container
	ChunkIndex uint64 `json:"chunkIndex"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
}

type sessionStopMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type pingMsg struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// serverMsg is the envelope for everything the server sends; fields beyond
// Type are populated per message type.
type serverMsg struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"sessionId,omitempty"`
	Transcript string  `json:"transcript,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Message    string  `json:"message,omitempty"`
	Code       string  `json:"code,omitempty"`
	Timestamp  int64   `json:"timestamp,omitempty"`
}
