// Package httpapi is a thin HTTP adapter over StashService. The caller's
// identity is taken from a header set by a trusted front proxy.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"stash-go/internal/config"
	"stash-go/internal/model"
	"stash-go/internal/stash"
)

// DefaultMaxUpload bounds a request body when server.max_upload is unset.
const DefaultMaxUpload = 1024 << 20

// rootAlias addresses the caller's root directory in /api/dirs/{id}.
const rootAlias = "root"

// Service is the part of StashService the HTTP layer drives.
type Service interface {
	RootDirectory(ctx context.Context, owner string) (*model.DirectoryEntry, error)
	CreateDirectory(ctx context.Context, owner, parentID, name string) (*model.DirectoryEntry, error)
	ListDirectory(ctx context.Context, owner, directoryID string) (*stash.Listing, error)
	DeleteDirectory(ctx context.Context, owner, directoryID string) (int, error)
	Upload(ctx context.Context, owner, directoryID, displayName string, r io.Reader, declaredSize int64) (*model.FileEntry, error)
	Download(ctx context.Context, owner, fileID string) (io.ReadCloser, *model.FileEntry, error)
	FileInfo(ctx context.Context, owner, fileID string) (*model.FileEntry, error)
	DeleteFile(ctx context.Context, owner, fileID string) error
	Rename(ctx context.Context, owner, fileID, newName string) (*model.FileEntry, error)
}

type route struct {
	regex   *regexp.Regexp
	methods []string
	handle  func(w http.ResponseWriter, r *http.Request, owner string, args []string)
}

// Server is responsible for handling all http requests.
type Server struct {
	svc         Service
	l           stash.Logger
	ownerHeader string
	maxUpload   int64
	metrics     http.Handler
	routes      []route
}

// New creates a Server. metrics, when non-nil, is served at /metrics
// without owner authentication.
func New(svc Service, l stash.Logger, cfg config.ServerConfig, metrics http.Handler) *Server {
	s := &Server{
		svc:         svc,
		l:           l,
		ownerHeader: cfg.OwnerHeader,
		maxUpload:   cfg.MaxUpload,
		metrics:     metrics,
	}
	if s.ownerHeader == "" {
		s.ownerHeader = "X-Remote-User"
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUpload
	}

	s.routes = []route{
		{regexp.MustCompile(`^/api/dirs/([^/]+)/files$`), []string{http.MethodPost}, s.uploadFiles},
		{regexp.MustCompile(`^/api/dirs/([^/]+)/dirs$`), []string{http.MethodPost}, s.createDirectory},
		{regexp.MustCompile(`^/api/dirs/([^/]+)$`), []string{http.MethodGet}, s.listDirectory},
		{regexp.MustCompile(`^/api/dirs/([^/]+)$`), []string{http.MethodDelete}, s.deleteDirectory},
		{regexp.MustCompile(`^/api/files/([^/]+)/info$`), []string{http.MethodGet}, s.fileInfo},
		{regexp.MustCompile(`^/api/files/([^/]+)$`), []string{http.MethodGet}, s.getFile},
		{regexp.MustCompile(`^/api/files/([^/]+)$`), []string{http.MethodDelete}, s.deleteFile},
		{regexp.MustCompile(`^/api/files/([^/]+)$`), []string{http.MethodPatch}, s.renameFile},
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/metrics" && s.metrics != nil && r.Method == http.MethodGet {
		s.metrics.ServeHTTP(w, r)
		return
	}

	matched := false
	for _, rt := range s.routes {
		match := rt.regex.FindStringSubmatch(r.URL.Path)
		if match == nil {
			continue
		}
		matched = true
		for _, allowed := range rt.methods {
			if r.Method != allowed {
				continue
			}
			owner := r.Header.Get(s.ownerHeader)
			if owner == "" {
				s.errResponse(w, http.StatusUnauthorized, "missing identity")
				return
			}
			rt.handle(w, r, owner, match[1:])
			return
		}
	}
	if matched {
		s.errResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	http.NotFound(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.l.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	}
}

func (s *Server) directoryID(ctx context.Context, owner, id string) (string, error) {
	if id != rootAlias {
		return id, nil
	}
	root, err := s.svc.RootDirectory(ctx, owner)
	if err != nil {
		return "", err
	}
	return root.ID, nil
}

// Handler function for POST /api/dirs/{id}/files.
// Streams every file part of a multipart body into the directory.
func (s *Server) uploadFiles(w http.ResponseWriter, r *http.Request, owner string, args []string) {
	ctx := r.Context()
	dirID, err := s.directoryID(ctx, owner, args[0])
	if err != nil {
		s.fail(w, "uploadFiles", err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	reader, err := r.MultipartReader()
	if err != nil {
		s.errResponse(w, http.StatusBadRequest, "expected multipart/form-data body")
		return
	}

	resp := UploadResponse{Files: []FileResponse{}}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.uploadFailed(w, stash.NewIOError("reading multipart body", err), resp.Files)
			return
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}

		size := int64(-1)
		if v := part.Header.Get("Content-Length"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				size = n
			}
		}
		entry, err := s.svc.Upload(ctx, owner, dirID, part.FileName(), part, size)
		part.Close()
		if err != nil {
			s.uploadFailed(w, err, resp.Files)
			return
		}
		resp.Files = append(resp.Files, fileResponse(entry))
	}

	if len(resp.Files) == 0 {
		s.errResponse(w, http.StatusBadRequest, "no file parts in request")
		return
	}
	s.writeResponse(w, resp, http.StatusCreated)
}

// uploadFailed reports a failed part. Parts before it are already stored
// and stay stored, so the response lists them next to the error.
func (s *Server) uploadFailed(w http.ResponseWriter, err error, stored []FileResponse) {
	status, msg := s.classify("uploadFiles", err)
	s.writeResponse(w, ErrResponse{Error: msg, Files: stored}, status)
}

// Handler function for GET /api/files/{id}.
// Streams the decrypted content as an attachment.
func (s *Server) getFile(w http.ResponseWriter, r *http.Request, owner string, args []string) {
	rc, entry, err := s.svc.Download(r.Context(), owner, args[0])
	if err != nil {
		s.fail(w, "getFile", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType(entry.Name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": entry.Name}))
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		// headers are gone; all that is left is to log
		s.l.Warn("download interrupted", "file_id", entry.ID, "error", err)
	}
}

func (s *Server) fileInfo(w http.ResponseWriter, r *http.Request, owner string, args []string) {
	entry, err := s.svc.FileInfo(r.Context(), owner, args[0])
	if err != nil {
		s.fail(w, "fileInfo", err)
		return
	}
	s.writeResponse(w, fileResponse(entry), http.StatusOK)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request, owner string, args []string) {
	if err := s.svc.DeleteFile(r.Context(), owner, args[0]); err != nil {
		s.fail(w, "deleteFile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renameFile(w http.ResponseWriter, r *http.Request, owner string, args []string) {
	var req NameRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	entry, err := s.svc.Rename(r.Context(), owner, args[0], req.Name)
	if err != nil {
		s.fail(w, "renameFile", err)
		return
	}
	s.writeResponse(w, fileResponse(entry), http.StatusOK)
}

func (s *Server) listDirectory(w http.ResponseWriter, r *http.Request, owner string, args []string) {
	ctx := r.Context()
	dirID, err := s.directoryID(ctx, owner, args[0])
	if err != nil {
		s.fail(w, "listDirectory", err)
		return
	}
	listing, err := s.svc.ListDirectory(ctx, owner, dirID)
	if err != nil {
		s.fail(w, "listDirectory", err)
		return
	}
	s.writeResponse(w, listingResponse(listing), http.StatusOK)
}

func (s *Server) createDirectory(w http.ResponseWriter, r *http.Request, owner string, args []string) {
	ctx := r.Context()
	var req NameRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	parentID, err := s.directoryID(ctx, owner, args[0])
	if err != nil {
		s.fail(w, "createDirectory", err)
		return
	}
	dir, err := s.svc.CreateDirectory(ctx, owner, parentID, req.Name)
	if err != nil {
		s.fail(w, "createDirectory", err)
		return
	}
	s.writeResponse(w, directoryResponse(dir), http.StatusCreated)
}

func (s *Server) deleteDirectory(w http.ResponseWriter, r *http.Request, owner string, args []string) {
	ctx := r.Context()
	dirID, err := s.directoryID(ctx, owner, args[0])
	if err != nil {
		s.fail(w, "deleteDirectory", err)
		return
	}
	n, err := s.svc.DeleteDirectory(ctx, owner, dirID)
	if err != nil {
		s.fail(w, "deleteDirectory", err)
		return
	}
	s.writeResponse(w, DeleteDirectoryResponse{DeletedFiles: n}, http.StatusOK)
}

// fail maps a service error to a status code. Internal details are logged,
// never returned.
func (s *Server) fail(w http.ResponseWriter, handler string, err error) {
	status, msg := s.classify(handler, err)
	s.errResponse(w, status, msg)
}

// classify maps a service error to a status code and client message.
// Unexpected errors are logged and hidden behind a generic message.
func (s *Server) classify(handler string, err error) (int, string) {
	var maxBytes *http.MaxBytesError
	if errors.Is(err, stash.ErrInvariantViolation) {
		s.l.Error("request hit a consistency violation", "handler", handler, "error", err)
	}
	switch {
	case errors.Is(err, stash.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, stash.ErrTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "upload too large"
	case errors.Is(err, stash.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, stash.ErrExists):
		return http.StatusConflict, "already exists"
	default:
		s.l.Error("request failed", "handler", handler, "error", err)
		return http.StatusInternalServerError, "operation failed"
	}
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.errResponse(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeResponse(w http.ResponseWriter, response interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.l.Warn("writing response", "status", statusCode, "error", err)
	}
}

func (s *Server) errResponse(w http.ResponseWriter, status int, msg string) {
	s.writeResponse(w, ErrResponse{Error: msg}, status)
}
