package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kingrea/persona/internal/analysis"
	"github.com/kingrea/persona/internal/attachment"
	"github.com/kingrea/persona/internal/audio"
	"github.com/kingrea/persona/internal/fault"
	"github.com/kingrea/persona/internal/orchestrator"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type healthResponse struct {
	Status        string       `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Service       *serviceInfo `json:"service,omitempty"`
	ServiceError  string       `json:"service_error,omitempty"`
}

type serviceInfo struct {
	Status            string `json:"status"`
	AnalysisAvailable bool   `json:"analysis_available"`
	LanguageAvailable bool   `json:"language_available"`
	SpeechAvailable   bool   `json:"speech_available"`
}

type subjectRequest struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"dob"`
	Gender      string `json:"gender"`
}

type reportResponse struct {
	Text         string             `json:"text"`
	AudioError   string             `json:"audio_error,omitempty"`
	PartialError string             `json:"partial_error,omitempty"`
	State        orchestrator.State `json:"state"`
}

type chatRequest struct {
	Text string `json:"text"`
}

type chatResponse struct {
	Turn orchestrator.TurnView `json:"turn"`
	Chat orchestrator.ChatView `json:"chat"`
}

type chatSettingsRequest struct {
	IncludeAttachments *bool  `json:"include_attachments"`
	Voice              string `json:"voice"`
}

type linkRequest struct {
	URL string `json:"url"`
}

type extractResponse struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type speakRequest struct {
	Text string `json:"text"`
}

type exportRequest struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

type exportResponse struct {
	Location string `json:"location"`
}

// workContext keeps request values but drops cancellation. Session work
// started by a request runs to completion even when the caller hangs up, so
// the report, transcript and audio never stop halfway through an update.
// Remote calls stay bounded by the client's own timeouts.
func workContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        string(s.Status()),
		Version:       ProtocolVersion,
		UptimeSeconds: s.uptimeSeconds(),
	}
	if health, err := s.backend.Health(r.Context()); err != nil {
		resp.ServiceError = fault.Message(err)
	} else {
		resp.Service = &serviceInfo{
			Status:            health.Status,
			AnalysisAvailable: health.AnalysisAvailable,
			LanguageAvailable: health.LanguageAvailable,
			SpeechAvailable:   health.SpeechAvailable,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Snapshot())
}

func (s *Server) handleSubject(w http.ResponseWriter, r *http.Request) {
	var req subjectRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.backend.SetSubjectFields(req.Name, req.DateOfBirth, req.Gender); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.backend.Snapshot().Subject)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.Analyze(workContext(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{
		Text:       res.Text,
		AudioError: fault.Message(res.AudioErr),
		State:      s.backend.Snapshot(),
	})
}

func (s *Server) handleExtended(w http.ResponseWriter, r *http.Request) {
	res, err := s.backend.AnalyzeExtended(workContext(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{
		Text:         res.Text,
		AudioError:   fault.Message(res.AudioErr),
		PartialError: fault.Message(res.Partial),
		State:        s.backend.Snapshot(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	turn, err := s.backend.Chat(workContext(r), req.Text)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Turn: orchestrator.TurnView{Role: string(turn.Role), Content: turn.Content, At: turn.At},
		Chat: s.backend.Snapshot().Chat,
	})
}

func (s *Server) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	s.backend.NewConversation()
	writeJSON(w, http.StatusOK, s.backend.Snapshot().Chat)
}

func (s *Server) handleChatSettings(w http.ResponseWriter, r *http.Request) {
	var req chatSettingsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.IncludeAttachments != nil {
		s.backend.SetIncludeAttachments(*req.IncludeAttachments)
	}
	if req.Voice != "" {
		s.backend.SetVoice(req.Voice)
	}
	state := s.backend.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"include_attachments": state.Chat.IncludeAttachments,
		"voice":               state.Audio.Voice,
	})
}

func (s *Server) handleAttachFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.settings.MaxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload exceeds limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, attachment.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read file")
		return
	}
	rec, err := s.backend.AddFile(header.Filename, data)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.attachmentView(rec.ID))
}

func (s *Server) handleAttachLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !s.decode(w, r, &req) {
		return
	}
	rec, err := s.backend.AddLink(workContext(r), req.URL)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.attachmentView(rec.ID))
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	text, err := s.backend.ExtractAttachment(workContext(r), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{ID: id, Text: text})
}

func (s *Server) handleRemoveAttachment(w http.ResponseWriter, r *http.Request) {
	if !s.backend.RemoveAttachment(mux.Vars(r)["id"]) {
		writeError(w, http.StatusNotFound, "unknown attachment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.backend.Speak(workContext(r), req.Text); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.backend.Snapshot().Audio)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Play(); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.backend.Snapshot().Audio)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Pause(); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.backend.Snapshot().Audio)
}

func (s *Server) handleCurrentAudio(w http.ResponseWriter, r *http.Request) {
	data, contentType, ok := s.backend.AudioClip()
	if !ok {
		writeError(w, http.StatusNotFound, "no audio yet")
		return
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !s.decode(w, r, &req) {
		return
	}
	location, err := s.backend.ExportReport(workContext(r), orchestrator.ReportKind(req.Kind))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exportResponse{Location: location})
}

func (s *Server) handleExportAudio(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !s.decode(w, r, &req) {
		return
	}
	location, err := s.backend.DownloadAudio(workContext(r), req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, exportResponse{Location: location})
}

func (s *Server) attachmentView(id string) orchestrator.AttachmentView {
	for _, view := range s.backend.Snapshot().Attachments {
		if view.ID == id {
			return view
		}
	}
	return orchestrator.AttachmentView{ID: id}
}

// decode reads a bounded JSON body into dst. An empty body leaves dst zero.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload exceeds limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "unable to read body")
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// fail maps err onto a status code. Validation problems are the caller's
// fault, service problems are reported as a bad gateway.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, analysis.ErrSuperseded):
		status = http.StatusConflict
	case errors.Is(err, attachment.ErrUnknown), errors.Is(err, audio.ErrNoAudio):
		status = http.StatusNotFound
	case errors.Is(err, audio.ErrNothingToSay):
		status = http.StatusBadRequest
	default:
		switch fault.KindOf(err) {
		case fault.KindValidation:
			status = http.StatusUnprocessableEntity
		case fault.KindRemote, fault.KindMedia, fault.KindPartialExtraction:
			status = http.StatusBadGateway
		}
	}
	if status == http.StatusInternalServerError {
		s.logger.Printf("bridge: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: fault.Message(err), Kind: string(fault.KindOf(err))})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
