package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"syscall"

	"go.uber.org/zap"

	"github.com/imrandevofficial/openapi-servers/internal/confirm"
	"github.com/imrandevofficial/openapi-servers/internal/editor"
	"github.com/imrandevofficial/openapi-servers/internal/events"
	"github.com/imrandevofficial/openapi-servers/internal/logging"
	"github.com/imrandevofficial/openapi-servers/internal/metrics"
	"github.com/imrandevofficial/openapi-servers/internal/walker"
	"github.com/imrandevofficial/openapi-servers/pkg/models"
	"github.com/imrandevofficial/openapi-servers/pkg/protocol"
)

// decode parses a JSON request body, rejecting anything unparseable.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.fail(w, op, http.StatusBadRequest, protocol.CodeInvalidArgument, "invalid request body")
		return false
	}
	return true
}

// ─── Read / Write / Edit ────────────────────────────────────────────────────

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	const op = "read_file"
	var req protocol.ReadFileRequest
	if !s.decode(w, r, op, &req) {
		return
	}

	path, err := s.guard.Resolve(req.Path)
	if err != nil {
		s.accessDenied(w, op, err)
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.fail(w, op, http.StatusNotFound, protocol.CodeNotFound, "File not found: "+req.Path)
		case errors.Is(err, fs.ErrPermission):
			s.fail(w, op, http.StatusForbidden, protocol.CodePermissionDenied, "Permission denied for file: "+req.Path)
		default:
			s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure,
				fmt.Sprintf("Failed to read file %s: %v", req.Path, err))
		}
		return
	}

	s.ok(w, op, protocol.ReadFileResponse{Content: string(content)})
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	const op = "write_file"
	var req protocol.WriteFileRequest
	if !s.decode(w, r, op, &req) {
		return
	}

	path, err := s.guard.Resolve(req.Path)
	if err != nil {
		s.accessDenied(w, op, err)
		return
	}

	_, statErr := os.Stat(path)
	existed := statErr == nil

	if err := os.WriteFile(path, []byte(req.Content), 0o644); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			s.fail(w, op, http.StatusForbidden, protocol.CodePermissionDenied, "Permission denied to write to "+req.Path)
			return
		}
		s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure,
			fmt.Sprintf("Failed to write to %s: %v", req.Path, err))
		return
	}

	if existed {
		s.publishEvent(events.EventModify, path, "")
	} else {
		s.publishEvent(events.EventCreate, path, "")
	}
	s.ok(w, op, protocol.SuccessResponse{Message: "Successfully wrote to " + req.Path})
}

func (s *Server) handleEditFile(w http.ResponseWriter, r *http.Request) {
	const op = "edit_file"
	var req protocol.EditFileRequest
	if !s.decode(w, r, op, &req) {
		return
	}

	path, err := s.guard.Resolve(req.Path)
	if err != nil {
		s.accessDenied(w, op, err)
		return
	}

	original, err := os.ReadFile(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.fail(w, op, http.StatusNotFound, protocol.CodeNotFound, "File not found: "+req.Path)
		case errors.Is(err, fs.ErrPermission):
			s.fail(w, op, http.StatusForbidden, protocol.CodePermissionDenied, "Permission denied to read file: "+req.Path)
		default:
			s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure,
				fmt.Sprintf("Failed to read file %s for editing: %v", req.Path, err))
		}
		return
	}

	edits := make([]editor.Edit, len(req.Edits))
	for i, e := range req.Edits {
		edits[i] = editor.Edit{OldText: e.OldText, NewText: e.NewText}
	}

	modified, err := editor.Apply(string(original), edits)
	if err != nil {
		var notFound *editor.NotFoundError
		if errors.As(err, &notFound) {
			s.fail(w, op, http.StatusBadRequest, protocol.CodeEditNotFound, notFound.Error())
			return
		}
		s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure, err.Error())
		return
	}

	if req.DryRun {
		diff, err := editor.Unified(req.Path, string(original), modified)
		if err != nil {
			s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure, err.Error())
			return
		}
		s.ok(w, op, protocol.DiffResponse{Diff: diff})
		return
	}

	if err := os.WriteFile(path, []byte(modified), 0o644); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			s.fail(w, op, http.StatusForbidden, protocol.CodePermissionDenied, "Permission denied to write edited file: "+req.Path)
			return
		}
		s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure,
			fmt.Sprintf("Failed to write edited file %s: %v", req.Path, err))
		return
	}

	s.publishEvent(events.EventModify, path, "")
	s.ok(w, op, protocol.SuccessResponse{Message: "Successfully edited file " + req.Path})
}

// ─── Directories ────────────────────────────────────────────────────────────

func (s *Server) handleCreateDirectory(w http.ResponseWriter, r *http.Request) {
	const op = "create_directory"
	var req protocol.CreateDirectoryRequest
	if !s.decode(w, r, op, &req) {
		return
	}

	path, err := s.guard.Resolve(req.Path)
	if err != nil {
		s.accessDenied(w, op, err)
		return
	}

	_, statErr := os.Stat(path)
	existed := statErr == nil

	if err := os.MkdirAll(path, 0o755); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			s.fail(w, op, http.StatusForbidden, protocol.CodePermissionDenied, "Permission denied to create directory "+req.Path)
			return
		}
		s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure,
			fmt.Sprintf("Failed to create directory %s: %v", req.Path, err))
		return
	}

	if !existed {
		s.publishEvent(events.EventCreate, path, "")
	}
	s.ok(w, op, protocol.SuccessResponse{Message: "Successfully created directory " + req.Path})
}

func (s *Server) handleListDirectory(w http.ResponseWriter, r *http.Request) {
	const op = "list_directory"
	var req protocol.ListDirectoryRequest
	if !s.decode(w, r, op, &req) {
		return
	}

	path, err := s.guard.Resolve(req.Path)
	if err != nil {
		s.accessDenied(w, op, err)
		return
	}

	entries, err := s.walker.List(path)
	if err != nil {
		s.walkFailed(w, op, req.Path, err)
		return
	}

	s.ok(w, op, entries)
}

func (s *Server) handleDirectoryTree(w http.ResponseWriter, r *http.Request) {
	const op = "directory_tree"
	var req protocol.DirectoryTreeRequest
	if !s.decode(w, r, op, &req) {
		return
	}

	path, err := s.guard.Resolve(req.Path)
	if err != nil {
		s.accessDenied(w, op, err)
		return
	}

	nodes, err := s.walker.Tree(path)
	if err != nil {
		s.walkFailed(w, op, req.Path, err)
		return
	}

	metrics.RecordTreeSize(models.CountNodes(nodes))
	s.ok(w, op, nodes)
}

// walkFailed maps walker errors for the directory operations.
func (s *Server) walkFailed(w http.ResponseWriter, op, label string, err error) {
	switch {
	case errors.Is(err, walker.ErrNotDirectory):
		s.fail(w, op, http.StatusBadRequest, protocol.CodeInvalidArgument, "Provided path is not a directory")
	case errors.Is(err, fs.ErrPermission):
		s.fail(w, op, http.StatusForbidden, protocol.CodePermissionDenied, "Permission denied for "+label)
	default:
		s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure,
			fmt.Sprintf("Operation on %s failed: %v", label, err))
	}
}

// ─── Search ─────────────────────────────────────────────────────────────────

func (s *Server) handleSearchFiles(w http.ResponseWriter, r *http.Request) {
	const op = "search_files"
	var req protocol.SearchFilesRequest
	if !s.decode(w, r, op, &req) {
		return
	}

	path, err := s.guard.Resolve(req.Path)
	if err != nil {
		s.accessDenied(w, op, err)
		return
	}

	matches, err := s.walker.SearchNames(path, req.Pattern, req.ExcludePatterns)
	if err != nil {
		s.walkFailed(w, op, req.Path, err)
		return
	}

	metrics.RecordSearchResults("names", len(matches))
	s.ok(w, op, protocol.SearchFilesResponse{
		Matches:    matches,
		HasMatches: len(matches) > 0,
	})
}

func (s *Server) handleSearchContent(w http.ResponseWriter, r *http.Request) {
	const op = "search_content"
	var req protocol.SearchContentRequest
	if !s.decode(w, r, op, &req) {
		return
	}

	recursive := true
	if req.Recursive != nil {
		recursive = *req.Recursive
	}
	filePattern := req.FilePattern
	if filePattern == "" {
		filePattern = "*"
	}

	path, err := s.guard.Resolve(req.Path)
	if err != nil {
		s.accessDenied(w, op, err)
		return
	}

	matches, skipped, err := s.walker.SearchContent(path, req.SearchQuery, recursive, filePattern)
	if err != nil {
		if errors.Is(err, walker.ErrBadPattern) {
			s.fail(w, op, http.StatusBadRequest, protocol.CodeInvalidArgument, err.Error())
			return
		}
		s.walkFailed(w, op, req.Path, err)
		return
	}

	metrics.RecordSearchResults("content", len(matches))
	metrics.RecordSearchSkipped(len(skipped))
	s.ok(w, op, protocol.SearchContentResponse{
		Matches:    matches,
		HasMatches: len(matches) > 0,
		Skipped:    skipped,
	})
}

// ─── Delete (two-phase) ─────────────────────────────────────────────────────

func (s *Server) handleDeletePath(w http.ResponseWriter, r *http.Request) {
	const op = "delete_path"
	var req protocol.DeletePathRequest
	if !s.decode(w, r, op, &req) {
		return
	}

	path, err := s.guard.Resolve(req.Path)
	if err != nil {
		s.accessDenied(w, op, err)
		return
	}

	if req.ConfirmationToken == "" {
		s.deleteRequestToken(w, r, req, path)
		return
	}
	s.deleteConfirmed(w, r, req, path)
}

// deleteRequestToken handles phase 1: nothing is deleted, a confirmation
// token is issued for the exact requested parameters.
func (s *Server) deleteRequestToken(w http.ResponseWriter, r *http.Request, req protocol.DeletePathRequest, path string) {
	const op = "delete_path"

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.fail(w, op, http.StatusNotFound, protocol.CodeNotFound, "Path not found: "+req.Path)
			return
		}
		s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure,
			fmt.Sprintf("Failed to delete %s: %v", req.Path, err))
		return
	}

	// The token binds to the raw request strings; phase 2 must repeat them
	// verbatim.
	token, pending, err := s.store.Create(r.Context(), req.Path, req.Recursive)
	if err != nil {
		s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure,
			fmt.Sprintf("Failed to create confirmation: %v", err))
		return
	}

	metrics.RecordConfirmation("issued")
	s.updatePendingGauge(r)
	logging.WithContext(r.Context()).Info("deletion confirmation issued",
		zap.String("path", req.Path),
		zap.Bool("recursive", req.Recursive),
		zap.Time("expires_at", pending.ExpiresAt),
	)

	s.ok(w, op, protocol.ConfirmationRequiredResponse{
		Message:           fmt.Sprintf("`Confirm deletion of file: %s with token %s`", req.Path, token),
		ConfirmationToken: token,
		ExpiresAt:         pending.ExpiresAt,
	})
}

// deleteConfirmed handles phase 2: the token is consumed before anything is
// removed, so it cannot authorize a second deletion even if this one fails.
func (s *Server) deleteConfirmed(w http.ResponseWriter, r *http.Request, req protocol.DeletePathRequest, path string) {
	const op = "delete_path"

	err := s.store.Confirm(r.Context(), req.ConfirmationToken, req.Path, req.Recursive)
	switch {
	case errors.Is(err, confirm.ErrInvalidToken):
		metrics.RecordConfirmation("invalid")
		s.fail(w, op, http.StatusBadRequest, protocol.CodeInvalidToken, "Invalid or expired confirmation token.")
		return
	case errors.Is(err, confirm.ErrTokenExpired):
		metrics.RecordConfirmation("expired")
		s.updatePendingGauge(r)
		s.fail(w, op, http.StatusBadRequest, protocol.CodeTokenExpired, "Confirmation token has expired.")
		return
	case errors.Is(err, confirm.ErrParameterMismatch):
		metrics.RecordConfirmation("mismatch")
		s.fail(w, op, http.StatusBadRequest, protocol.CodeParameterMismatch,
			"Request parameters (path, recursive) do not match the original request for this token.")
		return
	case err != nil:
		s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure,
			fmt.Sprintf("Failed to confirm deletion of %s: %v", req.Path, err))
		return
	}

	metrics.RecordConfirmation("confirmed")
	s.updatePendingGauge(r)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.fail(w, op, http.StatusNotFound, protocol.CodeNotFound, "Path not found: "+req.Path)
			return
		}
		s.deleteFailed(w, req.Path, err)
		return
	}

	switch {
	case info.Mode().IsRegular():
		if err := os.Remove(path); err != nil {
			s.deleteFailed(w, req.Path, err)
			return
		}
		s.publishEvent(events.EventDelete, path, "")
		s.ok(w, op, protocol.SuccessResponse{Message: "Successfully deleted file: " + req.Path})

	case info.IsDir():
		if req.Recursive {
			if err := os.RemoveAll(path); err != nil {
				s.deleteFailed(w, req.Path, err)
				return
			}
			s.publishEvent(events.EventDelete, path, "")
			s.ok(w, op, protocol.SuccessResponse{Message: "Successfully deleted directory recursively: " + req.Path})
			return
		}
		if err := os.Remove(path); err != nil {
			if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
				s.fail(w, op, http.StatusBadRequest, protocol.CodeDirectoryNotEmpty,
					fmt.Sprintf("Directory not empty. Use 'recursive=True' to delete non-empty directories. Original error: %v", err))
				return
			}
			s.deleteFailed(w, req.Path, err)
			return
		}
		s.publishEvent(events.EventDelete, path, "")
		s.ok(w, op, protocol.SuccessResponse{Message: "Successfully deleted empty directory: " + req.Path})

	default:
		s.fail(w, op, http.StatusBadRequest, protocol.CodeInvalidArgument, "Path is not a file or directory: "+req.Path)
	}
}

func (s *Server) deleteFailed(w http.ResponseWriter, label string, err error) {
	const op = "delete_path"
	if errors.Is(err, fs.ErrPermission) {
		s.fail(w, op, http.StatusForbidden, protocol.CodePermissionDenied, "Permission denied to delete "+label)
		return
	}
	s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure,
		fmt.Sprintf("Failed to delete %s: %v", label, err))
}

func (s *Server) updatePendingGauge(r *http.Request) {
	if n, err := s.store.Len(r.Context()); err == nil {
		metrics.SetPendingConfirmations(n)
	}
}

// ─── Move ───────────────────────────────────────────────────────────────────

func (s *Server) handleMovePath(w http.ResponseWriter, r *http.Request) {
	const op = "move_path"
	var req protocol.MovePathRequest
	if !s.decode(w, r, op, &req) {
		return
	}

	source, err := s.guard.Resolve(req.SourcePath)
	if err != nil {
		s.accessDenied(w, op, err)
		return
	}
	destination, err := s.guard.Resolve(req.DestinationPath)
	if err != nil {
		s.accessDenied(w, op, err)
		return
	}

	if _, err := os.Stat(source); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.fail(w, op, http.StatusNotFound, protocol.CodeNotFound, "Source path not found: "+req.SourcePath)
			return
		}
		s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure,
			fmt.Sprintf("Failed to move '%s' to '%s': %v", req.SourcePath, req.DestinationPath, err))
		return
	}

	if err := movePath(source, destination); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			s.fail(w, op, http.StatusForbidden, protocol.CodePermissionDenied,
				fmt.Sprintf("Permission denied for move operation involving '%s' or '%s'", req.SourcePath, req.DestinationPath))
			return
		}
		s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure,
			fmt.Sprintf("Failed to move '%s' to '%s': %v", req.SourcePath, req.DestinationPath, err))
		return
	}

	s.publishEvent(events.EventMove, source, destination)
	s.ok(w, op, protocol.SuccessResponse{
		Message: fmt.Sprintf("Successfully moved '%s' to '%s'", req.SourcePath, req.DestinationPath),
	})
}

// ─── Metadata ───────────────────────────────────────────────────────────────

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	const op = "get_metadata"
	var req protocol.GetMetadataRequest
	if !s.decode(w, r, op, &req) {
		return
	}

	path, err := s.guard.Resolve(req.Path)
	if err != nil {
		s.accessDenied(w, op, err)
		return
	}

	m, err := walker.Metadata(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.fail(w, op, http.StatusNotFound, protocol.CodeNotFound, "Path not found: "+req.Path)
		case errors.Is(err, fs.ErrPermission):
			s.fail(w, op, http.StatusForbidden, protocol.CodePermissionDenied, "Permission denied to access metadata for "+req.Path)
		default:
			s.fail(w, op, http.StatusInternalServerError, protocol.CodeIOFailure,
				fmt.Sprintf("Failed to get metadata for %s: %v", req.Path, err))
		}
		return
	}

	s.ok(w, op, m)
}

// ─── Allowed roots ──────────────────────────────────────────────────────────

func (s *Server) handleListAllowedDirectories(w http.ResponseWriter, r *http.Request) {
	s.ok(w, "list_allowed_directories", protocol.ListAllowedDirectoriesResponse{
		AllowedDirectories: s.guard.Roots(),
	})
}
