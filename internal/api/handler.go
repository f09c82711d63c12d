package api

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/podushkina/uploadqueue/internal/scheduler"
	"github.com/podushkina/uploadqueue/internal/task"
	"github.com/podushkina/uploadqueue/internal/transfer"
)

const maxFieldBytes = 64 << 10

type Options struct {
	Fs             afero.Fs
	SpoolDir       string
	MaxUploadBytes int64
}

type Handler struct {
	sched *scheduler.Scheduler
	opts  Options
}

func NewHandler(s *scheduler.Scheduler, opts Options) *Handler {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.SpoolDir == "" {
		opts.SpoolDir = afero.GetTempDir(opts.Fs, "uploadqueue")
	}
	return &Handler{sched: s, opts: opts}
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Active bool   `json:"active"`
}

var errBadForm = errors.New("bad form")

// CreateUploads accepts a multipart form with one or more "file" parts, an
// optional "meta_data" JSON field applied to every file and an optional
// "batch_id". Files are spooled to disk before they are queued.
func (h *Handler) CreateUploads(w http.ResponseWriter, r *http.Request) {
	if h.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}

	form, err := h.readForm(mr)
	if err != nil {
		form.discard()
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			respondError(w, http.StatusRequestEntityTooLarge, "upload too large")
		case errors.Is(err, errBadForm):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			log.Errorf("spool upload: %+v", err)
			respondError(w, http.StatusInternalServerError, "failed to store upload")
		}
		return
	}
	if len(form.files) == 0 {
		respondError(w, http.StatusBadRequest, "at least one file is required")
		return
	}

	jobs := make([]scheduler.Job, len(form.files))
	for i, p := range form.files {
		jobs[i] = scheduler.Job{Payload: p, Metadata: form.meta}
	}

	var opts []scheduler.SubmitOption
	if form.batchID != "" {
		opts = append(opts, scheduler.WithBatchID(form.batchID))
	}

	sub, err := h.sched.Submit(jobs, opts...)
	if err != nil {
		form.discard()
		switch {
		case errors.Is(err, scheduler.ErrStopped):
			respondError(w, http.StatusServiceUnavailable, "upload queue is shutting down")
		default:
			respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusAccepted, sub)
}

type uploadForm struct {
	files   []*transfer.FilePayload
	meta    task.Metadata
	batchID string
}

func (f *uploadForm) discard() {
	for _, p := range f.files {
		if err := p.Discard(); err != nil {
			log.Warnf("discard spooled upload %s: %v", p.Path(), err)
		}
	}
}

func (h *Handler) readForm(mr *multipart.Reader) (*uploadForm, error) {
	form := &uploadForm{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return form, nil
		}
		if err != nil {
			return form, errors.Wrap(err, "read multipart")
		}

		switch part.FormName() {
		case "file":
			p, err := h.spool(part)
			if err != nil {
				return form, err
			}
			form.files = append(form.files, p)
		case "meta_data":
			data, err := readField(part)
			if err != nil {
				return form, err
			}
			if err := json.Unmarshal(data, &form.meta); err != nil {
				return form, errors.Wrap(errBadForm, "meta_data is not valid JSON")
			}
		case "batch_id":
			data, err := readField(part)
			if err != nil {
				return form, err
			}
			form.batchID = string(data)
		}
		part.Close()
	}
}

func (h *Handler) spool(part *multipart.Part) (*transfer.FilePayload, error) {
	defer part.Close()

	if err := h.opts.Fs.MkdirAll(h.opts.SpoolDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create spool dir")
	}
	f, err := afero.TempFile(h.opts.Fs, h.opts.SpoolDir, "upload-*")
	if err != nil {
		return nil, errors.Wrap(err, "create spool file")
	}

	n, err := io.Copy(f, part)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		h.opts.Fs.Remove(f.Name())
		return nil, errors.Wrapf(err, "spool %s", part.FileName())
	}

	name := part.FileName()
	if name == "" {
		name = "unnamed"
	}
	return transfer.NewSpooledPayload(h.opts.Fs, f.Name(), name, n), nil
}

func readField(part *multipart.Part) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", part.FormName())
	}
	if len(data) > maxFieldBytes {
		return nil, errors.Wrapf(errBadForm, "%s is too long", part.FormName())
	}
	return data, nil
}

func (h *Handler) ListUploads(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sched.Snapshot())
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sched.Stats())
}

func (h *Handler) GetUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, ok := h.sched.Task(id)
	if !ok {
		respondError(w, http.StatusNotFound, "upload not found")
		return
	}

	respondJSON(w, http.StatusOK, t)
}

func (h *Handler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, ok := h.sched.Task(id); !ok {
		respondError(w, http.StatusNotFound, "upload not found")
		return
	}

	h.sched.Cancel(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CancelAll(w http.ResponseWriter, r *http.Request) {
	h.sched.CancelAll()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	h.sched.ClearCompleted()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Active: h.sched.IsActive()})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
