package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/persona-segmentation/internal/classifier"
	"github.com/ignite/persona-segmentation/internal/pkg/httputil"
	"github.com/ignite/persona-segmentation/internal/pkg/logger"
	"github.com/ignite/persona-segmentation/internal/segmentation"
	"github.com/ignite/persona-segmentation/internal/service/ingest"
)

// SegmentAndStore accepts a CSV upload, segments it and routes every
// customer to their persona table.
//
//	POST /segment-and-store (multipart, field "file")
func (h *Handlers) SegmentAndStore(w http.ResponseWriter, r *http.Request) {
	limit := h.maxUpload()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "File is too large.")
			return
		}
		httputil.BadRequest(w, "Invalid multipart upload: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "A CSV file is required in the 'file' field.")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		httputil.BadRequest(w, "Invalid file type. Please upload a CSV.")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		httputil.BadRequest(w, "Could not read the uploaded file.")
		return
	}

	rep, err := h.Segmenter.Run(r.Context(), ingest.Upload{Filename: header.Filename, Data: data})
	if err != nil {
		writeBatchError(w, err)
		return
	}
	httputil.OK(w, rep)
}

func writeBatchError(w http.ResponseWriter, err error) {
	var (
		verr *segmentation.ValidationError
		lerr *segmentation.LabelingError
	)
	switch {
	case errors.As(err, &verr):
		httputil.BadRequest(w, "Error processing file: "+verr.Error())
	case errors.As(err, &lerr):
		logger.Error("batch labeling failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "Error processing file: "+lerr.Error())
	case errors.Is(err, classifier.ErrUnavailable):
		httputil.ServiceUnavailable(w, "The segmentation model is unavailable.")
	case errors.Is(err, classifier.ErrBadResponse):
		logger.Error("classifier answered badly", "error", err)
		httputil.Error(w, http.StatusBadGateway, "The segmentation model returned an invalid response.")
	default:
		httputil.InternalError(w, "Error processing file.", err)
	}
}

// GetBatch returns the stored report of an earlier upload.
//
//	GET /batches/{batchID}
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Segmenter.Report(r.Context(), chi.URLParam(r, "batchID"))
	if errors.Is(err, ingest.ErrReportNotFound) {
		httputil.NotFound(w, "Batch not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, "Failed to fetch batch", err)
		return
	}
	httputil.OK(w, rep)
}
