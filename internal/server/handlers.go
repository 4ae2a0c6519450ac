package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/zombor/expense-capture/internal/capture"
	"github.com/zombor/expense-capture/internal/media"
)

// maxFormSize allows high-resolution phone photos plus form overhead
const maxFormSize = media.MaxArtifactBytes + 1<<20

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v with the given status
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error encoding response", "error", err)
	}
}

// writeError maps an error onto a status code and a user-facing message
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), errorResponse{Error: capture.NoticeMessage(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrStorage):
		return http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrOffline), errors.Is(err, capture.ErrAnalysisInProgress):
		return http.StatusConflict
	case errors.Is(err, capture.ErrNotFound), errors.Is(err, capture.ErrNoSharedItem):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrInference):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// formFile returns the first file found under any of names
func formFile(r *http.Request, names ...string) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		return nil, nil, err
	}
	for _, name := range names {
		f, header, err := r.FormFile(name)
		if err == nil {
			return f, header, nil
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, nil, err
		}
	}
	return nil, nil, http.ErrMissingFile
}

func (s *Server) badForm(w http.ResponseWriter, err error) {
	s.logger.Warn("Error parsing upload", "error", err)
	msg := "Error parsing form"
	switch {
	case errors.Is(err, http.ErrMissingFile):
		msg = "No file was selected. Please choose a file to upload."
	case err.Error() == "http: request body too large":
		msg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
	}
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

type admissionResponse struct {
	ItemID         string           `json:"item_id"`
	Source         string           `json:"source"`
	Queued         bool             `json:"queued"`
	AwaitingChoice bool             `json:"awaiting_choice"`
	Outcome        *capture.Outcome `json:"outcome,omitempty"`
	Message        string           `json:"message,omitempty"`
}

// handleCapture admits a camera, gallery or imported file. An online
// capture waits for the analyze-now choice; clients that already asked
// the user can pass it in the "choice" form field.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	f, header, err := formFile(r, "file")
	if err != nil {
		s.badForm(w, err)
		return
	}
	defer f.Close()

	source, err := capture.ParseSourceKind(r.FormValue("source"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	artifact := capture.Artifact{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        f,
	}
	adm, err := s.controller.Capture(r.Context(), source, artifact)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := admissionResponse{
		ItemID:         adm.Item.ID,
		Source:         string(adm.Source),
		Queued:         !adm.Handoff,
		AwaitingChoice: adm.Handoff,
	}

	choice := capture.Choice(r.FormValue("choice"))
	if !adm.Handoff || choice == "" {
		s.writeJSON(w, http.StatusAccepted, resp)
		return
	}

	resp.AwaitingChoice = false
	outcome, err := s.controller.Choose(r.Context(), adm.Item.ID, choice)
	switch {
	case errors.Is(err, capture.ErrOffline) && !errors.Is(err, capture.ErrStorage):
		// Connectivity dropped between admission and analysis; the item was kept
		resp.Queued = true
		resp.Message = capture.NoticeMessage(err)
		s.writeJSON(w, http.StatusAccepted, resp)
		return
	case err != nil:
		s.writeError(w, err)
		return
	case outcome == nil:
		resp.Queued = true
		s.writeJSON(w, http.StatusAccepted, resp)
		return
	}

	resp.Outcome = outcome
	if outcome.Kind == capture.Failed {
		resp.Queued = true
		resp.Message = capture.NoticeMessage(outcome.Reason)
		s.writeJSON(w, http.StatusAccepted, resp)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

// handleShareTarget receives files from the operating system share sheet.
// The file is queued and the browser is sent back to the app, whose next
// launch resolves the shared item.
func (s *Server) handleShareTarget(w http.ResponseWriter, r *http.Request) {
	f, header, err := formFile(r, "file", "files", "media")
	if err != nil {
		s.badForm(w, err)
		return
	}
	defer f.Close()

	artifact := capture.Artifact{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        f,
	}
	if _, err := s.controller.Capture(r.Context(), capture.SourceSharedFile, artifact); err != nil {
		s.logger.Error("Error receiving shared file", "filename", header.Filename, "error", err)
		http.Redirect(w, r, "/?share=failed", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/?share=1", http.StatusSeeOther)
}

// handleVoice analyzes a voice note
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	f, header, err := formFile(r, "audio", "file")
	if err != nil {
		s.badForm(w, err)
		return
	}
	defer f.Close()

	outcome, err := s.controller.CaptureVoice(r.Context(), header.Filename, header.Header.Get("Content-Type"), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if outcome.Kind == capture.Failed {
		s.writeJSON(w, statusFor(outcome.Reason), errorResponse{Error: capture.NoticeMessage(outcome.Reason)})
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

// handleLaunch reports application start and returns the flow state
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Shared bool `json:"shared"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
			return
		}
	}

	state, err := s.controller.Launch(r.Context(), req.Shared)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// handleConnectivity applies an online/offline signal from the client
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	changed := s.controller.SetOnline(*req.Online)
	s.writeJSON(w, http.StatusOK, map[string]bool{
		"online":  *req.Online,
		"changed": changed,
	})
}

type queueEntry struct {
	ID         string    `json:"id"`
	MimeType   string    `json:"mime_type"`
	Size       int       `json:"size"`
	CapturedAt time.Time `json:"captured_at"`
}

// handleListQueue returns the visible queue, newest first
func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	items := s.controller.Queue()
	entries := make([]queueEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, queueEntry{
			ID:         item.ID,
			MimeType:   item.MimeType,
			Size:       item.Size(),
			CapturedAt: item.CapturedAt(),
		})
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// handleQueueFile returns the stored payload of a queued item
func (s *Server) handleQueueFile(w http.ResponseWriter, r *http.Request) {
	item, err := s.controller.Item(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := item.Bytes()
	if err != nil {
		s.writeError(w, errors.Join(capture.ErrDecode, err))
		return
	}

	w.Header().Set("Content-Type", item.MimeType)
	w.Write(data)
}

// handleAnalyze analyzes a queued item on request
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.controller.AnalyzeQueued(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

// handleDiscard removes a queued item
func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Discard(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSync analyzes queued items oldest first
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	consumed, err := s.controller.Sync(r.Context())
	resp := map[string]any{"consumed": consumed}
	if err != nil {
		resp["error"] = capture.NoticeMessage(err)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type flowResponse struct {
	State   capture.FlowState `json:"state"`
	Surface *capture.Surface  `json:"surface,omitempty"`
	Notices []capture.Notice  `json:"notices"`
}

// handleFlow returns the flow state, the current surface and new notices
func (s *Server) handleFlow(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, flowResponse{
		State:   s.controller.State(),
		Surface: s.inbox.Surface(),
		Notices: s.inbox.Drain(),
	})
}

// handleChoice answers the analyze-now prompt
func (s *Server) handleChoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID string         `json:"item_id"`
		Choice capture.Choice `json:"choice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	outcome, err := s.controller.Choose(r.Context(), req.ItemID, req.Choice)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if outcome == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

// handleConfirmDraft stores the confirmed draft of a single expense
func (s *Server) handleConfirmDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID string        `json:"item_id"`
		Draft  capture.Draft `json:"draft"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	if err := s.controller.ConfirmDraft(r.Context(), req.ItemID, req.Draft); err != nil {
		s.logger.Error("Error confirming draft", "item_id", req.ItemID, "error", err)
		s.writeError(w, err)
		return
	}
	s.inbox.Clear(req.ItemID)
	w.WriteHeader(http.StatusCreated)
}

// handleConfirmReview stores the selected drafts of a review
func (s *Server) handleConfirmReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID   string          `json:"item_id"`
		Selected []int           `json:"selected"`
		Drafts   []capture.Draft `json:"drafts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	created, err := s.controller.ConfirmReview(r.Context(), req.ItemID, req.Selected, req.Drafts)
	if errors.Is(err, capture.ErrNotFound) {
		s.writeError(w, err)
		return
	}

	resp := map[string]any{"created": created}
	if err != nil {
		// The drafts that failed are back in review
		s.logger.Error("Error confirming review", "item_id", req.ItemID, "created", created, "error", err)
		resp["error"] = err.Error()
		s.writeJSON(w, http.StatusMultiStatus, resp)
		return
	}
	s.inbox.Clear(req.ItemID)
	s.writeJSON(w, http.StatusCreated, resp)
}

// handleCancelReview drops a pending review
func (s *Server) handleCancelReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID string `json:"item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	if err := s.controller.CancelReview(r.Context(), req.ItemID); err != nil {
		s.writeError(w, err)
		return
	}
	s.inbox.Clear(req.ItemID)
	w.WriteHeader(http.StatusNoContent)
}

// handleListExpenses returns confirmed expenses, newest first
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.book.ListExpenses(r.Context())
	if err != nil {
		s.logger.Error("Error listing expenses", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, expenses)
}

// handleListAccounts returns the account catalog
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.book.ListAccounts(r.Context())
	if err != nil {
		s.logger.Error("Error listing accounts", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, accounts)
}

// handleReceiptFile returns a receipt attached to a confirmed expense
func (s *Server) handleReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, err := s.book.ReceiptFile(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "File not found"})
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}
