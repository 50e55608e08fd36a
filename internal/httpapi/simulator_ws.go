package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nexusvoice/nexusvoice/internal/eventlog"
	"github.com/nexusvoice/nexusvoice/internal/llm"
	"github.com/nexusvoice/nexusvoice/internal/metrics"
	"github.com/nexusvoice/nexusvoice/internal/notifications"
	"github.com/nexusvoice/nexusvoice/internal/simulator"
	"github.com/nexusvoice/nexusvoice/internal/store"
	"github.com/nexusvoice/nexusvoice/internal/stt"
	"github.com/nexusvoice/nexusvoice/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is a message from the browser. The browser owns the platform
// capabilities (Web Speech API recognizer, speech synthesis, audio element);
// this protocol forwards their events to the server-side session.
type clientMessage struct {
	Type string `json:"type"`

	// start
	AgentID string `json:"agent_id,omitempty"`

	// speech
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`

	// rec_error
	Code string `json:"code,omitempty"`

	// playback_done
	Error string `json:"error,omitempty"`
}

// serverMessage is a JSON message to the browser. Premium audio travels
// separately as binary frames.
type serverMessage struct {
	Type      string           `json:"type"`
	State     string           `json:"state,omitempty"`
	Phase     string           `json:"phase,omitempty"`
	Entry     *simulator.Entry `json:"entry,omitempty"`
	Text      string           `json:"text,omitempty"`
	Lang      string           `json:"lang,omitempty"`
	Directive string           `json:"directive,omitempty"`
}

// wsSession bridges one browser test call to a simulator session.
type wsSession struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	logger   *log.Logger
	store    *store.Store
	eventLog *eventlog.Logger
	metrics  *metrics.Metrics
	webhook  *notifications.Webhook

	bridge  *stt.Bridge
	session *simulator.Session
	player  *wsPlayer
	speaker *wsSpeaker

	agent     *store.Agent
	callID    string
	startedAt time.Time

	// endReason is written by the read loop before the session winds down.
	reasonMu  sync.Mutex
	endReason string
}

func (r *Router) handleSimulatorWS(w http.ResponseWriter, req *http.Request) {
	if !r.tokenValid(req.URL.Query().Get("token")) {
		http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
		return
	}
	if r.cfg.GeminiAPIKey == "" {
		r.logger.Printf("simulator_ws: missing Gemini API key")
		http.Error(w, `{"error": "model provider not configured"}`, http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("simulator_ws: upgrade failed: %v", err)
		return
	}

	s := &wsSession{
		conn:     conn,
		logger:   r.logger,
		store:    r.store,
		eventLog: r.eventLog,
		metrics:  r.metrics,
		webhook:  r.webhook(req),
	}
	s.player = &wsPlayer{ws: s}
	s.speaker = &wsSpeaker{ws: s}

	r.logger.Printf("simulator_ws: connection established, waiting for start message")
	s.run(r)
}

func (s *wsSession) run(r *Router) {
	defer s.cleanup()

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("simulator_ws: connection closed")
			} else {
				s.logger.Printf("simulator_ws: read error: %v", err)
			}
			s.setEndReason("disconnect")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var cm clientMessage
		if err := json.Unmarshal(msg, &cm); err != nil {
			s.logger.Printf("simulator_ws: failed to parse message: %v", err)
			continue
		}

		switch cm.Type {
		case "start":
			if s.session != nil {
				s.logger.Printf("simulator_ws: duplicate start ignored")
				continue
			}
			if err := s.handleStart(r, cm.AgentID); err != nil {
				s.logger.Printf("simulator_ws: start failed: %v", err)
				s.writeJSON(serverMessage{Type: "notice", Text: "Could not start the call."})
				return
			}

		case "speech":
			if s.bridge == nil {
				continue
			}
			if cm.Final {
				s.bridge.PushFinal(cm.Text)
			} else {
				s.bridge.PushInterim(cm.Text)
			}

		case "rec_ended":
			if s.bridge != nil {
				s.bridge.PushEnded()
			}

		case "rec_error":
			if s.bridge != nil {
				s.bridge.PushError(cm.Code)
			}
			if cm.Code == "not-allowed" {
				s.eventLog.LogAsync(s.callID, eventlog.EventMicDenied, nil)
			}

		case "playback_done":
			s.player.done(cm.Error)
			if cm.Error != "" {
				if s.metrics != nil {
					s.metrics.PlaybackErrors.Inc()
				}
				s.eventLog.LogAsync(s.callID, eventlog.EventPlaybackError, map[string]any{"error": cm.Error})
			}

		case "fallback_done":
			s.speaker.done()

		case "mute":
			if s.session != nil {
				s.session.ToggleMute()
				s.eventLog.LogAsync(s.callID, eventlog.EventMuteToggled, nil)
			}

		case "end":
			s.setEndReason("user")
			if s.session != nil {
				s.session.End()
			}
			return

		default:
			s.logger.Printf("simulator_ws: unknown message type %q", cm.Type)
		}
	}
}

func (s *wsSession) handleStart(r *Router, agentID string) error {
	agent, err := r.store.GetAgent(context.Background(), agentID)
	if err != nil {
		return err
	}
	s.agent = agent
	s.startedAt = nowUTC()

	callID, err := r.store.InsertCallLog(context.Background(), store.CallLog{
		AgentID:   &agent.ID,
		Direction: "simulated",
		Status:    "in_progress",
		StartedAt: s.startedAt,
	})
	if err != nil {
		s.logger.Printf("simulator_ws: failed to insert call log: %v", err)
	} else {
		s.callID = callID
	}

	// Premium synthesis is only offered for voices the key actually has.
	var synth tts.Client
	var voiceIDs []string
	if key := s.resolveElevenLabsKey(r); key != "" {
		el := r.synth(key)
		synth = el
		voiceIDs = s.availableVoiceIDs(r, el, key)
	}

	s.bridge = stt.NewBridge(func(d stt.Directive) error {
		return s.writeJSON(serverMessage{Type: "rec", Directive: string(d)})
	})

	cfg := simulator.Config{
		AgentName:      agent.Name,
		Model:          agent.Model,
		PromptTemplate: agent.Prompt,
		Temperature:    agent.Temperature,
		Greeting:       stringValue(agent.Greeting),
		Language:       agent.TranscriptionLanguage,
	}
	if agent.VoiceID != nil {
		cfg.VoiceID = *agent.VoiceID
	}
	if agent.MaxDurationSeconds > 0 {
		cfg.MaxDuration = time.Duration(agent.MaxDurationSeconds) * time.Second
	}

	s.session = simulator.NewSession(cfg, simulator.Deps{
		Recognizer: s.bridge,
		Model:      &instrumentedModel{inner: r.gemini, ws: s},
		Synth:      wrapSynth(synth, s),
		Voices:     voiceIDs,
		Player:     s.player,
		Fallback:   s.speaker,
		Logger:     s.logger,
		Observer: simulator.Observer{
			OnState:      s.onState,
			OnTranscript: s.onTranscript,
			OnInterim:    s.onInterim,
			OnNotice:     s.onNotice,
		},
	})

	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
		s.metrics.SessionsStarted.Inc()
	}
	s.eventLog.LogAsync(s.callID, eventlog.EventSessionStarted, map[string]any{
		"agent_id":   agent.ID,
		"agent_name": agent.Name,
	})

	s.logger.Printf("simulator_ws: test call started for agent %s", agent.Name)
	s.session.Start()
	return nil
}

func (s *wsSession) resolveElevenLabsKey(r *Router) string {
	key, err := r.store.GetSetting(context.Background(), SettingElevenLabsKey)
	if err == nil && key != "" {
		return key
	}
	return r.cfg.ElevenLabsAPIKey
}

// availableVoiceIDs lists the key's voices, served from cache when possible.
// An empty list disables premium synthesis rather than failing the call.
func (s *wsSession) availableVoiceIDs(r *Router, el tts.Client, key string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var voices []tts.Voice
	var ok bool
	if r.voices != nil {
		voices, ok = r.voices.Get(ctx, key)
	}
	if !ok {
		var err error
		voices, err = el.Voices(ctx)
		if err != nil {
			s.logger.Printf("simulator_ws: voice list failed, premium synthesis disabled: %v", err)
			return nil
		}
		if r.voices != nil {
			r.voices.Set(ctx, key, voices)
		}
	}

	ids := make([]string, 0, len(voices))
	for _, v := range voices {
		ids = append(ids, v.ID)
	}
	return ids
}

func (s *wsSession) onState(state simulator.State) {
	s.writeJSON(serverMessage{
		Type:  "state",
		State: state.String(),
		Phase: string(state.Phase()),
	})
}

func (s *wsSession) onTranscript(e simulator.Entry) {
	entry := e
	s.writeJSON(serverMessage{Type: "transcript", Entry: &entry})

	if e.Role == simulator.RoleUser {
		s.eventLog.LogAsync(s.callID, eventlog.EventTurnFinalized, map[string]any{"text": e.Text})
	} else if s.metrics != nil {
		s.metrics.TurnsCompleted.Inc()
	}
}

func (s *wsSession) onInterim(text string) {
	s.writeJSON(serverMessage{Type: "interim", Text: text})
	if text != "" {
		s.eventLog.LogAsync(s.callID, eventlog.EventSTTResult, map[string]any{"text": text, "final": false})
	}
}

func (s *wsSession) onNotice(text string) {
	s.writeJSON(serverMessage{Type: "notice", Text: text})
}

func (s *wsSession) setEndReason(reason string) {
	s.reasonMu.Lock()
	if s.endReason == "" {
		s.endReason = reason
	}
	s.reasonMu.Unlock()
}

func (s *wsSession) finalReason() string {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	if s.endReason == "" {
		// The session ended on its own while the connection was still up.
		return "max_duration"
	}
	return s.endReason
}

func (s *wsSession) cleanup() {
	if s.session != nil {
		s.session.End()
		<-s.session.Done()
	}
	if s.bridge != nil {
		s.bridge.Close()
	}

	s.connMu.Lock()
	_ = s.conn.Close()
	s.connMu.Unlock()

	if s.session == nil {
		return
	}

	reason := s.finalReason()
	duration := int(nowUTC().Sub(s.startedAt).Seconds())
	transcript := s.session.Transcript()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Dec()
		s.metrics.SessionsEnded.WithLabelValues(reason).Inc()
		s.metrics.SessionDuration.Observe(float64(duration))
	}
	s.eventLog.LogAsync(s.callID, eventlog.EventSessionEnded, map[string]any{
		"reason":           reason,
		"duration_seconds": duration,
	})

	if s.callID != "" {
		transcriptJSON, _ := json.Marshal(transcript)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.FinishCallLog(ctx, s.callID, "completed", transcriptJSON, duration, nowUTC()); err != nil {
			s.logger.Printf("simulator_ws: failed to finish call log: %v", err)
		}
	}

	payload := notifications.CallCompletedPayload{
		CallID:          s.callID,
		Direction:       "simulated",
		DurationSeconds: duration,
		Transcript:      transcript,
	}
	if s.agent != nil {
		payload.AgentID = s.agent.ID
		payload.AgentName = s.agent.Name
	}
	s.webhook.NotifyCallCompleted(context.Background(), payload)

	s.logger.Printf("simulator_ws: session ended (%s) after %ds, %d transcript entries",
		reason, duration, len(transcript))
}

func (s *wsSession) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsSession) writeBinary(data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// wsPlayer implements simulator.Player over the connection: audio goes out as
// a binary frame, the browser plays it and reports playback_done.
type wsPlayer struct {
	ws *wsSession

	mu     sync.Mutex
	onDone func(err error)
}

func (p *wsPlayer) Play(audio []byte, onDone func(err error)) {
	p.mu.Lock()
	p.onDone = onDone
	p.mu.Unlock()

	if err := p.ws.writeBinary(audio); err != nil {
		p.done(err.Error())
	}
}

func (p *wsPlayer) Pause() {
	p.mu.Lock()
	p.onDone = nil
	p.mu.Unlock()
	_ = p.ws.writeJSON(serverMessage{Type: "pause_audio"})
}

func (p *wsPlayer) done(errText string) {
	p.mu.Lock()
	fn := p.onDone
	p.onDone = nil
	p.mu.Unlock()
	if fn == nil {
		return
	}
	if errText != "" {
		fn(&playbackError{text: errText})
		return
	}
	fn(nil)
}

type playbackError struct{ text string }

func (e *playbackError) Error() string { return "playback failed: " + e.text }

// wsSpeaker implements simulator.Speaker: the browser renders the utterance
// with its built-in speech synthesis and reports fallback_done.
type wsSpeaker struct {
	ws *wsSession

	mu     sync.Mutex
	onDone func()
}

func (sp *wsSpeaker) Speak(text, lang string, onDone func()) {
	sp.mu.Lock()
	sp.onDone = onDone
	sp.mu.Unlock()

	if err := sp.ws.writeJSON(serverMessage{Type: "speak_fallback", Text: text, Lang: lang}); err != nil {
		// Connection is gone; complete immediately so the loop is not stuck.
		sp.done()
	}
}

func (sp *wsSpeaker) Cancel() {
	sp.mu.Lock()
	sp.onDone = nil
	sp.mu.Unlock()
	_ = sp.ws.writeJSON(serverMessage{Type: "cancel_fallback"})
}

func (sp *wsSpeaker) done() {
	sp.mu.Lock()
	fn := sp.onDone
	sp.onDone = nil
	sp.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// instrumentedModel times model calls and records their outcome.
type instrumentedModel struct {
	inner llm.Client
	ws    *wsSession
}

func (m *instrumentedModel) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	return m.inner.Generate(ctx, req)
}

func (m *instrumentedModel) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	m.ws.eventLog.LogAsync(m.ws.callID, eventlog.EventModelStarted, map[string]any{"model": req.Model})
	start := time.Now()
	reply, err := m.inner.Chat(ctx, req)
	elapsed := time.Since(start)

	if m.ws.metrics != nil {
		m.ws.metrics.ModelLatency.Observe(elapsed.Seconds())
	}
	if err != nil {
		if m.ws.metrics != nil {
			m.ws.metrics.ModelErrors.Inc()
		}
		m.ws.eventLog.LogAsync(m.ws.callID, eventlog.EventModelError, map[string]any{"error": err.Error()})
		return reply, err
	}
	m.ws.eventLog.LogAsync(m.ws.callID, eventlog.EventModelCompleted, map[string]any{
		"latency_ms": elapsed.Milliseconds(),
	})
	return reply, nil
}

// instrumentedSynth times premium synthesis and counts fallbacks.
type instrumentedSynth struct {
	inner tts.Client
	ws    *wsSession
}

func wrapSynth(inner tts.Client, ws *wsSession) tts.Client {
	if inner == nil {
		return nil
	}
	return &instrumentedSynth{inner: inner, ws: ws}
}

func (t *instrumentedSynth) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	start := time.Now()
	audio, err := t.inner.Synthesize(ctx, voiceID, text)
	if t.ws.metrics != nil {
		t.ws.metrics.SynthesisLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if t.ws.metrics != nil {
			t.ws.metrics.TTSFallbacks.Inc()
		}
		t.ws.eventLog.LogAsync(t.ws.callID, eventlog.EventTTSFallback, map[string]any{"error": err.Error()})
	}
	return audio, err
}

func (t *instrumentedSynth) Voices(ctx context.Context) ([]tts.Voice, error) {
	return t.inner.Voices(ctx)
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
