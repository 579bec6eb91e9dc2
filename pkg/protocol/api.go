// Package protocol defines the request and response types exchanged over
// the HTTP API. Field names are part of the wire contract and must not
// change between releases.
package protocol

import (
	"time"

	"github.com/imrandevofficial/openapi-servers/pkg/models"
)

// Error codes carried by ErrorResponse.Code. Clients dispatch on these,
// not on the human-readable message.
const (
	CodeAccessDenied      = "ACCESS_DENIED"
	CodeNotFound          = "NOT_FOUND"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeEditNotFound      = "EDIT_NOT_FOUND"
	CodeInvalidToken      = "INVALID_TOKEN"
	CodeTokenExpired      = "TOKEN_EXPIRED"
	CodeParameterMismatch = "PARAMETER_MISMATCH"
	CodeDirectoryNotEmpty = "DIRECTORY_NOT_EMPTY"
	CodeInvalidArgument   = "INVALID_ARGUMENT"
	CodeIOFailure         = "IO_FAILURE"
)

// ErrorResponse is the error payload for all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// AccessDeniedDetails is the Details payload of an ACCESS_DENIED error.
// Disclosing the allow-list to rejected callers is deliberate.
type AccessDeniedDetails struct {
	RequestedPath      string   `json:"requested_path"`
	AllowedDirectories []string `json:"allowed_directories"`
}

// SuccessResponse acknowledges a completed mutation.
type SuccessResponse struct {
	Message string `json:"message"`
}

// ReadFileRequest asks for the full text content of a file.
type ReadFileRequest struct {
	Path string `json:"path"`
}

type ReadFileResponse struct {
	Content string `json:"content"`
}

// WriteFileRequest overwrites (or creates) a file with UTF-8 text.
type WriteFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// EditOperation replaces the first occurrence of OldText with NewText.
type EditOperation struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

// EditFileRequest applies edits in order. With DryRun set the file is left
// untouched and the response carries a unified diff instead.
type EditFileRequest struct {
	Path   string          `json:"path"`
	Edits  []EditOperation `json:"edits"`
	DryRun bool            `json:"dryRun"`
}

type DiffResponse struct {
	Diff string `json:"diff"`
}

type CreateDirectoryRequest struct {
	Path string `json:"path"`
}

type ListDirectoryRequest struct {
	Path string `json:"path"`
}

type DirectoryTreeRequest struct {
	Path string `json:"path"`
}

// SearchFilesRequest searches for names containing Pattern beneath Path.
// Directories matching any exclude glob are not descended into.
type SearchFilesRequest struct {
	Path            string   `json:"path"`
	Pattern         string   `json:"pattern"`
	ExcludePatterns []string `json:"excludePatterns"`
}

// SearchFilesResponse lists matched absolute paths. HasMatches
// distinguishes an empty result from a failed search; Matches is never
// padded with placeholder entries.
type SearchFilesResponse struct {
	Matches    []string `json:"matches"`
	HasMatches bool     `json:"has_matches"`
}

// SearchContentRequest greps file contents beneath Path. FilePattern
// defaults to "*" and Recursive to true when omitted.
type SearchContentRequest struct {
	Path        string `json:"path"`
	SearchQuery string `json:"search_query"`
	Recursive   *bool  `json:"recursive"`
	FilePattern string `json:"file_pattern"`
}

// SearchContentResponse carries line matches plus a report of files the
// search had to skip (unreadable, vanished mid-walk).
type SearchContentResponse struct {
	Matches    []models.ContentMatch `json:"matches"`
	HasMatches bool                  `json:"has_matches"`
	Skipped    []models.SkippedFile  `json:"skipped,omitempty"`
}

// DeletePathRequest drives the two-phase delete protocol. Without a token
// the server registers a pending confirmation; with one it verifies and
// deletes.
type DeletePathRequest struct {
	Path              string `json:"path"`
	Recursive         bool   `json:"recursive"`
	ConfirmationToken string `json:"confirmation_token,omitempty"`
}

// ConfirmationRequiredResponse is returned by phase one of a delete.
type ConfirmationRequiredResponse struct {
	Message           string    `json:"message"`
	ConfirmationToken string    `json:"confirmation_token"`
	ExpiresAt         time.Time `json:"expires_at"`
}

type MovePathRequest struct {
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
}

type GetMetadataRequest struct {
	Path string `json:"path"`
}

type ListAllowedDirectoriesResponse struct {
	AllowedDirectories []string `json:"allowed_directories"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
