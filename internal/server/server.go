package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/robertobartola/mybackrec/internal/config"
	"github.com/robertobartola/mybackrec/internal/service"
	"github.com/robertobartola/mybackrec/internal/storage"
)

// Server is the HTTP remote control for a recording session
type Server struct {
	session *service.Session
	store   *storage.Store
	cfg     *config.Config
	port    string
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status    string               `json:"status"`
	Message   string               `json:"message,omitempty"`
	Session   *service.SessionInfo `json:"session,omitempty"`
	OutputDir string               `json:"output_dir"`
	Format    string               `json:"format"`
}

// FilesResponse represents the JSON response for files endpoint
type FilesResponse struct {
	Files           []storage.FileInfo `json:"files"`
	TotalCount      int                `json:"total_count"`
	OutputDirectory string             `json:"output_directory"`
}

// DeleteResponse is returned after recordings have been removed
type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Deleted int    `json:"deleted"`
}

// FreezeResponse is returned after a freeze has been written to disk
type FreezeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	File    string `json:"file"`
	Path    string `json:"path"`
}

// New creates a server controlling session. Saved recordings are served from store.
func New(cfg *config.Config, session *service.Session, store *storage.Store) *Server {
	return &Server{
		session: session,
		store:   store,
		cfg:     cfg,
		port:    cfg.Server.Port,
	}
}

// Handler returns the routes of the remote control
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/freeze", s.handleFreeze)
	mux.HandleFunc("/freeze.wav", s.handleFreezeWav)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/api/files/download/", s.handleFileDownload)
	mux.HandleFunc("/api/files/", s.handleFileDelete)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting MyBackRec Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown failed: %w", err)
	}
	return nil
}

// handleIndex lists the endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>MyBackRec</title>
</head>
<body>
    <h1>MyBackRec</h1>
    <form method="post" action="/start">
        <input type="number" name="seconds" min="1" placeholder="seconds">
        <button type="submit">Start</button>
    </form>
    <form method="post" action="/freeze"><button type="submit">Freeze</button></form>
    <form method="post" action="/stop"><button type="submit">Stop</button></form>
    <h2>API Endpoints:</h2>
    <ul>
        <li>POST /start - Start recording (form field seconds)</li>
        <li>POST /freeze - Save the buffered audio to a file</li>
        <li>GET /freeze.wav - Download the buffered audio</li>
        <li>POST /stop - Stop recording</li>
        <li>GET /status - Get status</li>
        <li>GET /api/files - List saved recordings</li>
        <li>GET /api/files/download/{name} - Download a recording</li>
        <li>DELETE /api/files/{name} - Delete a recording</li>
        <li>DELETE /api/files - Delete all recordings</li>
    </ul>
</body>
</html>`

// handleStart begins a recording session (IDLE -> RECORDING)
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "start")
		return
	}

	seconds := s.cfg.Recording.DurationSeconds
	if value := r.FormValue("seconds"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest,
				fmt.Sprintf("Invalid seconds value %q", value),
				"operation", "start")
			return
		}
		seconds = n
	}

	slog.Debug("Start request received", "seconds", seconds)

	if err := s.session.Start(seconds); err != nil {
		s.sendErrorResponse(w, statusCodeFor(err),
			fmt.Sprintf("Failed to start recording: %v", err),
			"seconds", seconds, "operation", "start")
		return
	}

	s.sendJSON(w, map[string]interface{}{
		"success": true,
		"message": "Recording started",
		"seconds": seconds,
	})
}

// handleFreeze saves the buffered audio to the output directory
func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	path, err := s.session.FreezeToFile()
	if err != nil {
		s.sendErrorResponse(w, statusCodeFor(err),
			fmt.Sprintf("Failed to freeze recording: %v", err),
			"operation", "freeze")
		return
	}

	s.sendJSON(w, FreezeResponse{
		Success: true,
		Message: "Recording saved",
		File:    filepath.Base(path),
		Path:    path,
	})
}

// handleFreezeWav streams the buffered audio without saving it
func (s *Server) handleFreezeWav(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	data, err := s.session.Freeze()
	if err != nil {
		s.sendErrorResponse(w, statusCodeFor(err),
			fmt.Sprintf("Failed to freeze recording: %v", err),
			"operation", "freeze_wav")
		return
	}

	filename := fmt.Sprintf("%s%s.wav", s.cfg.Output.Prefix, time.Now().Format(s.cfg.Output.TimestampLayout))
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		slog.Error("Error serving frozen audio", "error", err)
	}
}

// handleStop stops the current recording session
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.session.Stop(); err != nil {
		s.sendErrorResponse(w, statusCodeFor(err),
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "stop")
		return
	}

	s.sendJSON(w, map[string]interface{}{
		"success": true,
		"message": "Recording stopped",
	})
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	status, info := s.session.Status()
	s.sendJSON(w, StatusResponse{
		Status:    string(status),
		Message:   s.generateStatusMessage(status, info),
		Session:   info,
		OutputDir: s.store.Dir(),
		Format:    s.session.Format().String(),
	})
}

// handleFiles lists saved recordings, newest first. DELETE clears them all.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		s.handleFilesClear(w)
		return
	}
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	files, err := s.store.List()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to read output directory: %v", err),
			"operation", "list_files")
		return
	}

	s.sendJSON(w, FilesResponse{
		Files:           files,
		TotalCount:      len(files),
		OutputDirectory: s.store.Dir(),
	})
}

func (s *Server) handleFilesClear(w http.ResponseWriter) {
	deleted, err := s.store.DeleteAll()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to delete recordings after %d files: %v", deleted, err),
			"operation", "clear_files")
		return
	}

	s.sendJSON(w, DeleteResponse{
		Success: true,
		Message: fmt.Sprintf("Deleted %d recordings", deleted),
		Deleted: deleted,
	})
}

// handleFileDelete removes one saved recording
func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodDelete) {
		return
	}

	filename := r.URL.Path[len("/api/files/"):]
	if filename == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Filename required", "operation", "delete_file")
		return
	}

	if err := s.store.Delete(filename); err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, storage.ErrInvalidName):
			code = http.StatusBadRequest
		case errors.Is(err, storage.ErrNotFound):
			code = http.StatusNotFound
		}
		s.sendErrorResponse(w, code,
			fmt.Sprintf("Failed to delete recording: %v", err),
			"operation", "delete_file", "file", filename)
		return
	}

	s.sendJSON(w, DeleteResponse{
		Success: true,
		Message: fmt.Sprintf("Deleted %s", filename),
		Deleted: 1,
	})
}

// handleFileDownload serves a saved recording for download
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := r.URL.Path[len("/api/files/download/"):]
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}

	file, info, err := s.store.Open(filename)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidName):
			http.Error(w, "Invalid filename", http.StatusBadRequest)
		case errors.Is(err, storage.ErrNotFound):
			http.Error(w, "File not found", http.StatusNotFound)
		default:
			slog.Error("Error opening recording", "file", filename, "error", err)
			http.Error(w, "Error opening file", http.StatusInternalServerError)
		}
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", info.Name))
	http.ServeContent(w, r, info.Name, info.ModTime, file)
}

// generateStatusMessage creates appropriate status messages based on current state
func (s *Server) generateStatusMessage(status service.Status, info *service.SessionInfo) string {
	switch status {
	case service.StatusRecording:
		if info != nil {
			return fmt.Sprintf("Recording - keeping the last %d seconds", info.DurationSeconds)
		}
		return "Recording"
	case service.StatusError:
		if errorDetails := s.session.LastError(); errorDetails != "" {
			return errorDetails
		}
		return "An error occurred during recording"
	default:
		return ""
	}
}

// statusCodeFor maps session errors to HTTP status codes
func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAlreadyRecording),
		errors.Is(err, service.ErrNotRecording),
		errors.Is(err, service.ErrFreezeInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
