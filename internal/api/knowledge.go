package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zaibshamsi/Brofessor/internal/core"
	"github.com/zaibshamsi/Brofessor/internal/store"
)

const maxUploadMemory = 32 << 20

// multipartUpload adapts a multipart file part to core.Upload.
type multipartUpload struct {
	header *multipart.FileHeader
}

func (u multipartUpload) Name() string { return u.header.Filename }

func (u multipartUpload) MediaType() string { return u.header.Header.Get("Content-Type") }

func (u multipartUpload) Read() ([]byte, error) {
	f, err := u.header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

type knowledgeResponse struct {
	Files     []store.KnowledgeFile `json:"files"`
	HasCorpus bool                  `json:"has_corpus"`
}

func (h *APIHandler) GetKnowledgeHandler(w http.ResponseWriter, _ *http.Request) {
	files := h.Knowledge.Files()
	if files == nil {
		files = []store.KnowledgeFile{}
	}
	respondWithJSON(w, http.StatusOK, knowledgeResponse{Files: files, HasCorpus: h.Knowledge.HasCorpus()})
}

type uploadResponse struct {
	Results []core.IngestResult `json:"results"`
	Report  core.MergeReport    `json:"report"`
	Notice  string              `json:"notice,omitempty"`
}

// UploadKnowledgeHandler ingests the "files" parts and merges them into the
// corpus. The outcome notice goes to the session named by "session_id", or
// to every open session of the uploader when none is given.
func (h *APIHandler) UploadKnowledgeHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		http.Error(w, "At least one file is required", http.StatusBadRequest)
		return
	}

	var target *core.Session
	if id := r.FormValue("session_id"); id != "" {
		sess, err := h.Sessions.Get(id, user.ID)
		if err != nil {
			h.respondWithError(w, r, err)
			return
		}
		target = sess
	}

	uploads := make([]core.Upload, len(headers))
	for i, fh := range headers {
		uploads[i] = multipartUpload{header: fh}
	}
	results := h.Pipeline.Process(r.Context(), strconv.FormatInt(user.ID, 10), uploads)

	report, err := h.Knowledge.MergeIngested(r.Context(), results)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	notice := report.Notice()
	if target != nil {
		target.AppendNotice(notice)
	} else {
		for _, sess := range h.Sessions.ForOwner(user.ID) {
			sess.AppendNotice(notice)
		}
	}
	h.log.Info("Knowledge upload merged", "user_id", user.ID, "added", report.Added, "processed", report.Processed, "skipped", report.Skipped)
	respondWithJSON(w, http.StatusOK, uploadResponse{Results: results, Report: report, Notice: notice})
}

func (h *APIHandler) DeleteKnowledgeFileHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.Knowledge.DeleteByName(r.Context(), name); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ListTimetablesHandler(w http.ResponseWriter, _ *http.Request) {
	list := h.Timetables.List()
	if list == nil {
		list = []store.Timetable{}
	}
	respondWithJSON(w, http.StatusOK, list)
}

func (h *APIHandler) CreateTimetableHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	var upload core.Upload
	if headers := r.MultipartForm.File["file"]; len(headers) > 0 {
		upload = multipartUpload{header: headers[0]}
	}
	t, err := h.Timetables.Add(r.Context(), userFromContext(r.Context()), upload, r.FormValue("department"), r.FormValue("year"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, t)
}

func (h *APIHandler) DeleteTimetableHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "timetableID"), 10, 64)
	if err != nil {
		h.respondWithError(w, r, fmt.Errorf("invalid timetable id: %w", core.ErrInvalidInput))
		return
	}
	if err := h.Timetables.Delete(r.Context(), userFromContext(r.Context()), id); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
