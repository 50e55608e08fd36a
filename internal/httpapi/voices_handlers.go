package httpapi

import (
	"net/http"

	"github.com/nexusvoice/nexusvoice/internal/tts"
)

// maxVoiceSampleBytes caps voice clone uploads at 10 MB.
const maxVoiceSampleBytes = 10 << 20

// synth builds an ElevenLabs client for the request's resolved API key.
func (r *Router) synth(key string) *tts.ElevenLabsClient {
	return tts.NewElevenLabsClient(tts.ElevenLabsConfig{
		APIKey:     key,
		Stability:  -1,
		Similarity: -1,
		HTTPClient: r.cfg.HTTPClient,
	})
}

// handleListVoices returns the voices available under the configured
// ElevenLabs key, standard and cloned. Served from cache when possible.
func (r *Router) handleListVoices(w http.ResponseWriter, req *http.Request) {
	key := r.elevenLabsKey(req)
	if key == "" {
		http.Error(w, `{"error": "no ElevenLabs key configured"}`, http.StatusPreconditionFailed)
		return
	}

	if r.voices != nil {
		if voices, ok := r.voices.Get(req.Context(), key); ok {
			writeJSON(w, http.StatusOK, voices)
			return
		}
	}

	voices, err := r.synth(key).Voices(req.Context())
	if err != nil {
		r.logger.Printf("voices: list failed: %v", err)
		captureError(req, err, "voices: list failed")
		http.Error(w, `{"error": "voice list failed"}`, http.StatusBadGateway)
		return
	}

	if r.voices != nil {
		r.voices.Set(req.Context(), key, voices)
	}
	writeJSON(w, http.StatusOK, voices)
}

// handleCloneVoice creates an instant voice clone from an uploaded audio
// sample. Multipart form: name (text) + sample (file).
func (r *Router) handleCloneVoice(w http.ResponseWriter, req *http.Request) {
	key := r.elevenLabsKey(req)
	if key == "" {
		http.Error(w, `{"error": "no ElevenLabs key configured"}`, http.StatusPreconditionFailed)
		return
	}

	if err := req.ParseMultipartForm(maxVoiceSampleBytes); err != nil {
		http.Error(w, `{"error": "invalid multipart form"}`, http.StatusBadRequest)
		return
	}

	name := req.FormValue("name")
	if name == "" {
		http.Error(w, `{"error": "name is required"}`, http.StatusBadRequest)
		return
	}

	file, header, err := req.FormFile("sample")
	if err != nil {
		http.Error(w, `{"error": "sample file is required"}`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	voice, err := r.synth(key).AddVoice(req.Context(), name, file, header.Filename)
	if err != nil {
		r.logger.Printf("voices: clone failed: %v", err)
		captureError(req, err, "voices: clone failed")
		http.Error(w, `{"error": "voice clone failed"}`, http.StatusBadGateway)
		return
	}

	// The cloned voice changes the key's voice set.
	if r.voices != nil {
		r.voices.Invalidate(req.Context(), key)
	}

	r.logger.Printf("voices: cloned voice %s (%s)", voice.Name, voice.ID)
	writeJSON(w, http.StatusCreated, voice)
}
