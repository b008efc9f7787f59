package wire

// Direction tags whether an event flows client->server, server->client, or
// both.
type Direction string

const (
	DirClientToServer Direction = "client->server"
	DirServerToClient Direction = "server->client"
	DirBidirectional  Direction = "bidirectional"
)

// Priority classes events for shedding under outbound pressure (spec.md
// §4.1). When a connection's outbound buffer is full, an arriving Normal or
// Low frame is dropped, and an arriving Critical or High frame evicts the
// oldest queued frame. Queued frames are not examined by priority, so the
// evicted frame can itself be Critical.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// EventSpec describes one entry in the event catalogue.
type EventSpec struct {
	Name      string
	Direction Direction
	Priority  Priority
}

// Event type names (spec.md §4.1 minimum catalogue).
const (
	EventConnectionAck       = "connection.lifecycle.ack"
	EventAudioInputStart     = "audio.input.start"
	EventAudioInputChunk     = "audio.input.chunk"
	EventAudioInputStop      = "audio.input.stop"
	EventTranscriptInterim   = "transcript.interim.result"
	EventTranscriptFinal     = "transcript.final.result"
	EventAudioOutputStart    = "audio.output.start"
	EventAudioOutputChunk    = "audio.output.chunk"
	EventAudioOutputComplete = "audio.output.complete"
	EventAudioOutputCancel   = "audio.output.cancel"
	EventUserInterrupt       = "user.action.interrupt"

	EventSTTError      = "stt.error"
	EventLLMError      = "llm.error"
	EventTTSError      = "tts.error"
	EventProtocolError = "protocol.error"
	EventInputError    = "input.error"
)

// Catalogue is the full event catalogue used by the gateway's dispatcher
// and outbound shedder.
var Catalogue = map[string]EventSpec{
	EventConnectionAck:       {EventConnectionAck, DirServerToClient, PriorityCritical},
	EventAudioInputStart:     {EventAudioInputStart, DirClientToServer, PriorityHigh},
	EventAudioInputChunk:     {EventAudioInputChunk, DirClientToServer, PriorityNormal},
	EventAudioInputStop:      {EventAudioInputStop, DirClientToServer, PriorityHigh},
	EventTranscriptInterim:   {EventTranscriptInterim, DirServerToClient, PriorityLow},
	EventTranscriptFinal:     {EventTranscriptFinal, DirServerToClient, PriorityCritical},
	EventAudioOutputStart:    {EventAudioOutputStart, DirServerToClient, PriorityHigh},
	EventAudioOutputChunk:    {EventAudioOutputChunk, DirServerToClient, PriorityNormal},
	EventAudioOutputComplete: {EventAudioOutputComplete, DirServerToClient, PriorityHigh},
	EventAudioOutputCancel:   {EventAudioOutputCancel, DirServerToClient, PriorityHigh},
	EventUserInterrupt:       {EventUserInterrupt, DirClientToServer, PriorityCritical},
	EventSTTError:            {EventSTTError, DirServerToClient, PriorityCritical},
	EventLLMError:            {EventLLMError, DirServerToClient, PriorityCritical},
	EventTTSError:            {EventTTSError, DirServerToClient, PriorityCritical},
	EventProtocolError:       {EventProtocolError, DirServerToClient, PriorityCritical},
	EventInputError:          {EventInputError, DirServerToClient, PriorityCritical},
}

// PriorityOf returns the shedding priority for an event type, defaulting to
// PriorityNormal for anything not in the catalogue.
func PriorityOf(eventType string) Priority {
	if spec, ok := Catalogue[eventType]; ok {
		return spec.Priority
	}
	return PriorityNormal
}

// Payload types exchanged over the wire.

type AudioInputStartPayload struct {
	SampleRate int    `json:"sampleRate"`
	Language   string `json:"language"`
}

type AudioInputChunkPayload struct {
	Audio []byte `json:"audio"`
}

type TranscriptPayload struct {
	Text string `json:"text"`
}

type AudioOutputStartPayload struct {
	UtteranceID string `json:"utteranceId"`
}

type AudioOutputChunkPayload struct {
	UtteranceID string `json:"utteranceId"`
	Audio       []byte `json:"audio"`
}

type AudioOutputCompletePayload struct {
	UtteranceID     string  `json:"utteranceId"`
	PlaybackSeconds float64 `json:"playbackSeconds"`
}

type ConnectionAckPayload struct {
	SessionID string `json:"sessionId"`
}
