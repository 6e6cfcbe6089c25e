package httpadapter

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/ports"
	"github.com/kirillkom/invoiceflow/internal/observability/metrics"
)

const maxUploadBytes = 32 << 20

type Router struct {
	ingestor   ports.DocumentIngestor
	dispatcher ports.JobDispatcher
	batches    ports.BatchService
	docs       ports.DocumentReader
	files      FileStore

	metrics    *metrics.HTTPServerMetrics
	service    string
	presignTTL time.Duration

	rateLimitRPS   float64
	rateLimitBurst int
	maxConcurrent  int
}

// FileStore combines object reads with presign verification. The localfs
// storage satisfies it.
type FileStore interface {
	ports.ObjectStorage
	VerifySignature(key string, expires int64, signature string) bool
}

type RouterOptions struct {
	Metrics    *metrics.HTTPServerMetrics
	Service    string
	PresignTTL time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
	MaxConcurrent  int
}

func NewRouter(
	ingestor ports.DocumentIngestor,
	dispatcher ports.JobDispatcher,
	batches ports.BatchService,
	docs ports.DocumentReader,
	files FileStore,
	options RouterOptions,
) *Router {
	service := options.Service
	if service == "" {
		service = "api"
	}
	presignTTL := options.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &Router{
		ingestor:       ingestor,
		dispatcher:     dispatcher,
		batches:        batches,
		docs:           docs,
		files:          files,
		metrics:        options.Metrics,
		service:        service,
		presignTTL:     presignTTL,
		rateLimitRPS:   options.RateLimitRPS,
		rateLimitBurst: options.RateLimitBurst,
		maxConcurrent:  options.MaxConcurrent,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/documents", rt.uploadDocument)
	mux.HandleFunc("/v1/documents/status", rt.documentStatus)
	mux.HandleFunc("/v1/documents/", rt.documentSubtree)
	mux.HandleFunc("/v1/batches/", rt.batchSubtree)
	mux.HandleFunc("/files/", rt.serveSignedFile)

	var handler http.Handler = mux
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	handler = backpressureMiddleware(handler, rt.maxConcurrent, 50*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// uploadDocument accepts a multipart PDF and registers it as pending. With
// dispatch=true it also hands the document to the dispatcher in the same
// request.
func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	ownerID, ok := rt.requireOwner(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	in := ports.UploadInput{
		OwnerID:   ownerID,
		Filename:  fileHeader.Filename,
		Body:      file,
		BatchName: r.FormValue("batch_name"),
	}
	if raw := r.FormValue("batch_id"); raw != "" {
		batchID, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid batch_id"})
			return
		}
		in.BatchID = &batchID
	}
	if raw := r.FormValue("vendor_id"); raw != "" {
		vendorID, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid vendor_id"})
			return
		}
		in.VendorID = &vendorID
	}

	doc, err := rt.ingestor.Upload(r.Context(), in)
	if rt.metrics != nil {
		rt.metrics.RecordUpload(rt.service, err)
	}
	if err != nil {
		rt.writeError(w, err)
		return
	}

	if parseBool(r.FormValue("dispatch")) {
		result, err := rt.dispatcher.Dispatch(r.Context(), doc.ID, ownerID, nil)
		if err != nil {
			rt.writeError(w, err)
			return
		}
		if rt.metrics != nil {
			rt.metrics.RecordDispatch(rt.service, string(result.Mode))
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"document": doc, "dispatch": result})
		return
	}

	writeJSON(w, http.StatusAccepted, doc)
}

// documentSubtree serves /v1/documents/{id}, /v1/documents/{id}/process and
// /v1/documents/{id}/url.
func (rt *Router) documentSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	parts := strings.SplitN(rest, "/", 2)
	docID, err := uuid.Parse(parts[0])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document id"})
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		rt.getDocument(w, r, docID)
	case action == "process" && r.Method == http.MethodPost:
		rt.processDocument(w, r, docID)
	case action == "url" && r.Method == http.MethodGet:
		rt.presignDocument(w, r, docID)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request, docID uuid.UUID) {
	ownerID, ok := rt.requireOwner(w, r)
	if !ok {
		return
	}
	doc, err := rt.docs.GetByID(r.Context(), docID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if doc.OwnerID != ownerID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "document belongs to another owner"})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) processDocument(w http.ResponseWriter, r *http.Request, docID uuid.UUID) {
	ownerID, ok := rt.requireOwner(w, r)
	if !ok {
		return
	}

	var req struct {
		VendorID *uuid.UUID `json:"vendor_id"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}

	result, err := rt.dispatcher.Dispatch(r.Context(), docID, ownerID, req.VendorID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordDispatch(rt.service, string(result.Mode))
	}

	status := http.StatusAccepted
	if result.Mode == ports.DispatchSync {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (rt *Router) presignDocument(w http.ResponseWriter, r *http.Request, docID uuid.UUID) {
	ownerID, ok := rt.requireOwner(w, r)
	if !ok {
		return
	}
	doc, err := rt.docs.GetByID(r.Context(), docID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if doc.OwnerID != ownerID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "document belongs to another owner"})
		return
	}

	link, err := rt.files.PresignURL(doc.StoragePath, rt.presignTTL)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link})
}

// documentStatus returns the live view for a set of documents, for clients
// polling a batch upload.
func (rt *Router) documentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	ownerID, ok := rt.requireOwner(w, r)
	if !ok {
		return
	}

	var req struct {
		DocumentIDs []uuid.UUID `json:"document_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.DocumentIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document_ids is required"})
		return
	}

	views, err := rt.batches.GetStatus(r.Context(), ownerID, req.DocumentIDs)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": views})
}

// batchSubtree serves /v1/batches/{id}, /v1/batches/{id}/retry and
// /v1/batches/{id}/documents/{document_id}.
func (rt *Router) batchSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/batches/")
	parts := strings.SplitN(rest, "/", 3)
	batchID, err := uuid.Parse(parts[0])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid batch id"})
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		rt.getBatch(w, r, batchID)
	case len(parts) == 2 && parts[1] == "retry" && r.Method == http.MethodPost:
		rt.retryBatch(w, r, batchID)
	case len(parts) == 3 && parts[1] == "documents" && r.Method == http.MethodDelete:
		rt.removeBatchDocument(w, r, batchID, parts[2])
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) getBatch(w http.ResponseWriter, r *http.Request, batchID uuid.UUID) {
	ownerID, ok := rt.requireOwner(w, r)
	if !ok {
		return
	}
	batch, err := rt.batches.Refresh(r.Context(), batchID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if batch.OwnerID != ownerID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "batch belongs to another owner"})
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (rt *Router) retryBatch(w http.ResponseWriter, r *http.Request, batchID uuid.UUID) {
	ownerID, ok := rt.requireOwner(w, r)
	if !ok {
		return
	}
	result, err := rt.batches.RetryBatch(r.Context(), batchID, ownerID)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (rt *Router) removeBatchDocument(w http.ResponseWriter, r *http.Request, batchID uuid.UUID, rawDocID string) {
	ownerID, ok := rt.requireOwner(w, r)
	if !ok {
		return
	}
	docID, err := uuid.Parse(rawDocID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document id"})
		return
	}
	if err := rt.batches.RemoveDocument(r.Context(), batchID, docID, ownerID); err != nil {
		rt.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// serveSignedFile streams a stored document when the presigned signature
// checks out. This is the only unauthenticated read path.
func (rt *Router) serveSignedFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/files/")
	expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid expires"})
		return
	}
	signature := r.URL.Query().Get("signature")

	if !rt.files.VerifySignature(key, expires, signature) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid or expired signature"})
		return
	}

	reader, err := rt.files.Open(r.Context(), key)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/pdf")
	_, _ = io.Copy(w, reader)
}

func (rt *Router) requireOwner(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(r.Header.Get("X-Owner-Id"))
	if raw == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "X-Owner-Id header is required"})
		return uuid.Nil, false
	}
	ownerID, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "X-Owner-Id must be a uuid"})
		return uuid.Nil, false
	}
	return ownerID, true
}

func (rt *Router) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}
