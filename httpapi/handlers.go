package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/theimaginaryfoundation/jarvis/assistant"
)

const maxBodyBytes = 64 << 10

type textRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}

type songRequest struct {
	Song string `json:"song" validate:"required,max=200"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type moodResponse struct {
	Classification assistant.Classification `json:"classification"`
}

type musicResponse struct {
	Emotion    string                `json:"emotion"`
	Confidence float64               `json:"confidence"`
	Method     string                `json:"method"`
	Music      assistant.MusicResult `json:"music"`
}

type rebuildResponse struct {
	Table   *assistant.PreferenceTable `json:"table"`
	Rebuilt time.Time                  `json:"rebuilt_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // response write errors are not recoverable
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.log.Warn("request failed", "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: string(assistant.KindOf(err))})
}

// decode reads a JSON body into v and validates it. It writes the error response itself.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}
	if len(body) > maxBodyBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// statusFor maps a failure kind to an HTTP status.
func statusFor(err error) int {
	switch assistant.KindOf(err) {
	case assistant.KindConfiguration:
		return http.StatusServiceUnavailable
	case assistant.KindEmbedding, assistant.KindGeneration, assistant.KindPlayback:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	st := s.svc.CorpusStats()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "passages": st.Total})
}

func (s *Server) interactions(w http.ResponseWriter, r *http.Request) {
	var req assistant.Request
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.Process(r.Context(), req)
	if err != nil {
		// The response carries the stage trace and the system error message.
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) analyzeMood(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	cls, err := s.svc.Classify(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, moodResponse{Classification: cls})
}

func (s *Server) musicFromEmotion(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	cls, mr, err := s.svc.PlayForEmotion(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	// Playback failures are reported in the body, not the status.
	writeJSON(w, http.StatusOK, musicResponse{
		Emotion:    cls.PrimaryEmotion,
		Confidence: cls.Confidence,
		Method:     cls.Method,
		Music:      mr,
	})
}

func (s *Server) playSong(w http.ResponseWriter, r *http.Request) {
	var req songRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.PlaySong(r.Context(), req.Song)
	switch {
	case errors.Is(err, assistant.ErrNotConfigured):
		writeJSON(w, http.StatusServiceUnavailable, res)
	case err != nil:
		writeJSON(w, http.StatusBadGateway, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) insights(w http.ResponseWriter, r *http.Request) {
	ins, err := s.svc.Insights(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ins)
}

func (s *Server) corpusStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.CorpusStats())
}

func (s *Server) rebuildLearning(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.RebuildLearning(r.Context())
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rebuildResponse{Table: t, Rebuilt: t.UpdatedAt})
}
