// Integration tests for the filesystem API: path guarding, file operations,
// two-phase delete, search, and SSE. Everything runs against a temp root
// with a file-backed confirmation store, so no external services are needed.
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/imrandevofficial/openapi-servers/internal/config"
	"github.com/imrandevofficial/openapi-servers/internal/confirm"
	"github.com/imrandevofficial/openapi-servers/internal/events"
	"github.com/imrandevofficial/openapi-servers/internal/roots"
	"github.com/imrandevofficial/openapi-servers/pkg/models"
	"github.com/imrandevofficial/openapi-servers/pkg/protocol"
)

// newTestServer starts a server over a fresh temp root. The confirmation
// TTL is configurable so expiry paths can be tested with a negative value.
func newTestServer(t *testing.T, ttl time.Duration) (*httptest.Server, string, *events.Broadcaster) {
	t.Helper()

	root := t.TempDir()
	guard, err := roots.New([]string{root})
	if err != nil {
		t.Fatalf("guard init failed: %v", err)
	}

	store, err := confirm.NewFileStore(filepath.Join(t.TempDir(), "confirmations.json"), ttl)
	if err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	broadcaster := events.NewBroadcaster()
	srv := NewServer(guard, store, broadcaster, &config.Config{CORSEnabled: true})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, root, broadcaster
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func writeViaAPI(t *testing.T, ts *httptest.Server, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	resp := postJSON(t, ts.URL+"/write_file", protocol.WriteFileRequest{Path: path, Content: content})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("write failed: %d %s", resp.StatusCode, body)
	}
}

func decodeError(t *testing.T, resp *http.Response) protocol.ErrorResponse {
	t.Helper()
	var errResp protocol.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return errResp
}

// --- Tests ---

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t, time.Minute)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var health protocol.HealthResponse
	json.NewDecoder(resp.Body).Decode(&health)
	if health.Status != "ok" {
		t.Errorf("expected status ok, got %q", health.Status)
	}
}

func TestWriteAndReadFile(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	path := filepath.Join(root, "notes", "hello.txt")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	resp := postJSON(t, ts.URL+"/write_file", protocol.WriteFileRequest{Path: path, Content: "hello world"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var success protocol.SuccessResponse
	json.NewDecoder(resp.Body).Decode(&success)
	if success.Message != "Successfully wrote to "+path {
		t.Errorf("unexpected message %q", success.Message)
	}

	resp2 := postJSON(t, ts.URL+"/read_file", protocol.ReadFileRequest{Path: path})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("read failed: %d", resp2.StatusCode)
	}

	var read protocol.ReadFileResponse
	json.NewDecoder(resp2.Body).Decode(&read)
	if read.Content != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", read.Content)
	}
}

func TestReadFileNotFound(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	path := filepath.Join(root, "missing.txt")

	resp := postJSON(t, ts.URL+"/read_file", protocol.ReadFileRequest{Path: path})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	errResp := decodeError(t, resp)
	if errResp.Code != protocol.CodeNotFound {
		t.Errorf("expected code %s, got %s", protocol.CodeNotFound, errResp.Code)
	}
	if errResp.Error != "File not found: "+path {
		t.Errorf("unexpected error message %q", errResp.Error)
	}
}

func TestAccessDeniedOutsideRoots(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)

	resp := postJSON(t, ts.URL+"/read_file", protocol.ReadFileRequest{Path: "/etc/passwd"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	var errResp struct {
		Error   string                       `json:"error"`
		Code    string                       `json:"code"`
		Details protocol.AccessDeniedDetails `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Code != protocol.CodeAccessDenied {
		t.Errorf("expected code %s, got %s", protocol.CodeAccessDenied, errResp.Code)
	}
	if errResp.Details.RequestedPath != "/etc/passwd" {
		t.Errorf("expected requested_path /etc/passwd, got %q", errResp.Details.RequestedPath)
	}
	found := false
	for _, dir := range errResp.Details.AllowedDirectories {
		if strings.Contains(dir, filepath.Base(root)) {
			found = true
		}
	}
	if !found {
		t.Errorf("allowed_directories %v does not mention the test root", errResp.Details.AllowedDirectories)
	}
}

func TestPathTraversalBlocked(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)

	// Join would clean the dots client-side; the server must see them.
	sneaky := root + "/../../etc/passwd"
	resp := postJSON(t, ts.URL+"/read_file", protocol.ReadFileRequest{Path: sneaky})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for traversal, got %d", resp.StatusCode)
	}

	errResp := decodeError(t, resp)
	if errResp.Code != protocol.CodeAccessDenied {
		t.Errorf("expected code %s, got %s", protocol.CodeAccessDenied, errResp.Code)
	}
}

func TestEditFileDryRun(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	path := filepath.Join(root, "draft.txt")
	writeViaAPI(t, ts, path, "line one\nline two\nline three\n")

	resp := postJSON(t, ts.URL+"/edit_file", protocol.EditFileRequest{
		Path:   path,
		Edits:  []protocol.EditOperation{{OldText: "line two", NewText: "line 2"}},
		DryRun: true,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var diff protocol.DiffResponse
	json.NewDecoder(resp.Body).Decode(&diff)
	for _, want := range []string{"--- a/" + path, "+++ b/" + path, "-line two", "+line 2"} {
		if !strings.Contains(diff.Diff, want) {
			t.Errorf("diff missing %q:\n%s", want, diff.Diff)
		}
	}

	// Dry run must not touch the file.
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "line one\nline two\nline three\n" {
		t.Errorf("dry run modified the file: %q", content)
	}
}

func TestEditFileApply(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	path := filepath.Join(root, "config.yaml")
	writeViaAPI(t, ts, path, "port: 8080\nhost: localhost\n")

	resp := postJSON(t, ts.URL+"/edit_file", protocol.EditFileRequest{
		Path: path,
		Edits: []protocol.EditOperation{
			{OldText: "port: 8080", NewText: "port: 9090"},
			{OldText: "host: localhost", NewText: "host: 0.0.0.0"},
		},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var success protocol.SuccessResponse
	json.NewDecoder(resp.Body).Decode(&success)
	if success.Message != "Successfully edited file "+path {
		t.Errorf("unexpected message %q", success.Message)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "port: 9090\nhost: 0.0.0.0\n" {
		t.Errorf("unexpected content after edit: %q", content)
	}
}

func TestEditFileMissingOldText(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	path := filepath.Join(root, "a.txt")
	writeViaAPI(t, ts, path, "actual content")

	resp := postJSON(t, ts.URL+"/edit_file", protocol.EditFileRequest{
		Path:  path,
		Edits: []protocol.EditOperation{{OldText: "never there", NewText: "anything"}},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	errResp := decodeError(t, resp)
	if errResp.Code != protocol.CodeEditNotFound {
		t.Errorf("expected code %s, got %s", protocol.CodeEditNotFound, errResp.Code)
	}
	if !strings.Contains(errResp.Error, "Edit failed: oldText not found in content: 'never there") {
		t.Errorf("unexpected error message %q", errResp.Error)
	}

	content, _ := os.ReadFile(path)
	if string(content) != "actual content" {
		t.Errorf("failed edit modified the file: %q", content)
	}
}

func TestCreateDirectory(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	path := filepath.Join(root, "a", "b", "c")

	resp := postJSON(t, ts.URL+"/create_directory", protocol.CreateDirectoryRequest{Path: path})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		t.Fatalf("directory was not created: %v", err)
	}

	// Creating an existing directory succeeds again.
	resp2 := postJSON(t, ts.URL+"/create_directory", protocol.CreateDirectoryRequest{Path: path})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("expected idempotent create, got %d", resp2.StatusCode)
	}
}

func TestListDirectory(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	writeViaAPI(t, ts, filepath.Join(root, "file.txt"), "x")
	if err := os.Mkdir(filepath.Join(root, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, ts.URL+"/list_directory", protocol.ListDirectoryRequest{Path: root})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var entries []models.DirectoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("expected a bare JSON array: %v", err)
	}
	kinds := map[string]string{}
	for _, e := range entries {
		kinds[e.Name] = e.Type
	}
	if kinds["file.txt"] != models.KindFile {
		t.Errorf("expected file.txt to be a file, got %q", kinds["file.txt"])
	}
	if kinds["subdir"] != models.KindDirectory {
		t.Errorf("expected subdir to be a directory, got %q", kinds["subdir"])
	}
}

func TestListDirectoryOnFile(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	path := filepath.Join(root, "plain.txt")
	writeViaAPI(t, ts, path, "x")

	resp := postJSON(t, ts.URL+"/list_directory", protocol.ListDirectoryRequest{Path: path})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	errResp := decodeError(t, resp)
	if errResp.Code != protocol.CodeInvalidArgument {
		t.Errorf("expected code %s, got %s", protocol.CodeInvalidArgument, errResp.Code)
	}
	if errResp.Error != "Provided path is not a directory" {
		t.Errorf("unexpected error message %q", errResp.Error)
	}
}

func TestDirectoryTree(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	writeViaAPI(t, ts, filepath.Join(root, "top.txt"), "x")
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeViaAPI(t, ts, filepath.Join(root, "src", "main.go"), "package main")

	resp := postJSON(t, ts.URL+"/directory_tree", protocol.DirectoryTreeRequest{Path: root})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var nodes []models.TreeNode
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		t.Fatalf("expected a bare JSON array: %v", err)
	}

	src := models.FindByPath(nodes, "src")
	if src == nil {
		t.Fatal("src directory missing from tree")
	}
	if src.Children == nil || len(*src.Children) != 1 || (*src.Children)[0].Name != "main.go" {
		t.Errorf("unexpected src children: %+v", src.Children)
	}

	top := models.FindByPath(nodes, "top.txt")
	if top == nil {
		t.Fatal("top.txt missing from tree")
	}
	if top.Children != nil {
		t.Error("file node should not carry children")
	}
}

func TestSearchFiles(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	writeViaAPI(t, ts, filepath.Join(root, "Report-Final.PDF"), "x")
	writeViaAPI(t, ts, filepath.Join(root, "notes.txt"), "x")

	resp := postJSON(t, ts.URL+"/search_files", protocol.SearchFilesRequest{Path: root, Pattern: "report"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result protocol.SearchFilesResponse
	json.NewDecoder(resp.Body).Decode(&result)
	if !result.HasMatches || len(result.Matches) != 1 {
		t.Fatalf("expected one match, got %+v", result)
	}
	if filepath.Base(result.Matches[0]) != "Report-Final.PDF" {
		t.Errorf("unexpected match %q", result.Matches[0])
	}
}

func TestSearchFilesNoMatches(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	writeViaAPI(t, ts, filepath.Join(root, "notes.txt"), "x")

	resp := postJSON(t, ts.URL+"/search_files", protocol.SearchFilesRequest{Path: root, Pattern: "zzz"})
	defer resp.Body.Close()

	var result protocol.SearchFilesResponse
	json.NewDecoder(resp.Body).Decode(&result)
	if result.HasMatches {
		t.Error("expected has_matches=false")
	}
	if result.Matches == nil || len(result.Matches) != 0 {
		t.Errorf("expected empty matches array, got %+v", result.Matches)
	}
}

func TestSearchFilesExcludePattern(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	writeViaAPI(t, ts, filepath.Join(root, "src", "app.js"), "x")
	writeViaAPI(t, ts, filepath.Join(root, "node_modules", "dep", "index.js"), "x")

	resp := postJSON(t, ts.URL+"/search_files", protocol.SearchFilesRequest{
		Path:            root,
		Pattern:         ".js",
		ExcludePatterns: []string{"node_modules"},
	})
	defer resp.Body.Close()

	var result protocol.SearchFilesResponse
	json.NewDecoder(resp.Body).Decode(&result)
	if len(result.Matches) != 1 {
		t.Fatalf("expected one match, got %v", result.Matches)
	}
	if filepath.Base(result.Matches[0]) != "app.js" {
		t.Errorf("unexpected match %q", result.Matches[0])
	}
}

func TestSearchContent(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	writeViaAPI(t, ts, filepath.Join(root, "a.txt"), "first line\nhas NEEDLE here\n")
	writeViaAPI(t, ts, filepath.Join(root, "sub", "b.md"), "needle again\n")

	resp := postJSON(t, ts.URL+"/search_content", protocol.SearchContentRequest{
		Path:        root,
		SearchQuery: "needle",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var result protocol.SearchContentResponse
	json.NewDecoder(resp.Body).Decode(&result)
	if !result.HasMatches || len(result.Matches) != 2 {
		t.Fatalf("expected two matches, got %+v", result)
	}

	byFile := map[string]models.ContentMatch{}
	for _, m := range result.Matches {
		byFile[filepath.Base(m.FilePath)] = m
	}
	if m := byFile["a.txt"]; m.LineNumber != 2 || m.LineContent != "has NEEDLE here" {
		t.Errorf("unexpected a.txt match %+v", m)
	}
	if m := byFile["b.md"]; m.LineNumber != 1 || m.LineContent != "needle again" {
		t.Errorf("unexpected b.md match %+v", m)
	}
}

func TestSearchContentFilePattern(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	writeViaAPI(t, ts, filepath.Join(root, "doc.md"), "needle\n")
	writeViaAPI(t, ts, filepath.Join(root, "doc.txt"), "needle\n")

	resp := postJSON(t, ts.URL+"/search_content", protocol.SearchContentRequest{
		Path:        root,
		SearchQuery: "needle",
		FilePattern: "*.md",
	})
	defer resp.Body.Close()

	var result protocol.SearchContentResponse
	json.NewDecoder(resp.Body).Decode(&result)
	if len(result.Matches) != 1 || filepath.Base(result.Matches[0].FilePath) != "doc.md" {
		t.Errorf("expected only doc.md to match, got %+v", result.Matches)
	}
}

func TestSearchContentNonRecursive(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	writeViaAPI(t, ts, filepath.Join(root, "top.txt"), "needle\n")
	writeViaAPI(t, ts, filepath.Join(root, "deep", "nested.txt"), "needle\n")

	recursive := false
	resp := postJSON(t, ts.URL+"/search_content", protocol.SearchContentRequest{
		Path:        root,
		SearchQuery: "needle",
		Recursive:   &recursive,
	})
	defer resp.Body.Close()

	var result protocol.SearchContentResponse
	json.NewDecoder(resp.Body).Decode(&result)
	if len(result.Matches) != 1 || filepath.Base(result.Matches[0].FilePath) != "top.txt" {
		t.Errorf("expected only top.txt to match, got %+v", result.Matches)
	}
}

func TestSearchContentBadPattern(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)

	resp := postJSON(t, ts.URL+"/search_content", protocol.SearchContentRequest{
		Path:        root,
		SearchQuery: "x",
		FilePattern: "[",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	errResp := decodeError(t, resp)
	if errResp.Code != protocol.CodeInvalidArgument {
		t.Errorf("expected code %s, got %s", protocol.CodeInvalidArgument, errResp.Code)
	}
}

func TestDeleteFileTwoPhase(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	path := filepath.Join(root, "doomed.txt")
	writeViaAPI(t, ts, path, "x")

	// Phase 1: request a token. Nothing is deleted yet.
	resp := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{Path: path})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var pending protocol.ConfirmationRequiredResponse
	json.NewDecoder(resp.Body).Decode(&pending)
	if len(pending.ConfirmationToken) != 5 {
		t.Fatalf("expected 5-character token, got %q", pending.ConfirmationToken)
	}
	if !strings.Contains(pending.Message, pending.ConfirmationToken) {
		t.Errorf("message %q does not mention the token", pending.Message)
	}
	if !pending.ExpiresAt.After(time.Now()) {
		t.Errorf("expected future expiry, got %v", pending.ExpiresAt)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file deleted before confirmation: %v", err)
	}

	// Phase 2: confirm with the token.
	resp2 := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{
		Path:              path,
		ConfirmationToken: pending.ConfirmationToken,
	})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp2.Body)
		t.Fatalf("confirm failed: %d %s", resp2.StatusCode, body)
	}

	var success protocol.SuccessResponse
	json.NewDecoder(resp2.Body).Decode(&success)
	if success.Message != "Successfully deleted file: "+path {
		t.Errorf("unexpected message %q", success.Message)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still exists after confirmed delete")
	}

	// The token is single-use.
	resp3 := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{
		Path:              path,
		ConfirmationToken: pending.ConfirmationToken,
	})
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 on token reuse, got %d", resp3.StatusCode)
	}
	errResp := decodeError(t, resp3)
	if errResp.Code != protocol.CodeInvalidToken {
		t.Errorf("expected code %s, got %s", protocol.CodeInvalidToken, errResp.Code)
	}
}

func TestDeleteUnknownToken(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	path := filepath.Join(root, "f.txt")
	writeViaAPI(t, ts, path, "x")

	resp := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{
		Path:              path,
		ConfirmationToken: "zzzzz",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	errResp := decodeError(t, resp)
	if errResp.Code != protocol.CodeInvalidToken {
		t.Errorf("expected code %s, got %s", protocol.CodeInvalidToken, errResp.Code)
	}
	if errResp.Error != "Invalid or expired confirmation token." {
		t.Errorf("unexpected error message %q", errResp.Error)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file deleted despite invalid token: %v", err)
	}
}

func TestDeleteExpiredToken(t *testing.T) {
	ts, root, _ := newTestServer(t, -time.Second)
	path := filepath.Join(root, "f.txt")
	writeViaAPI(t, ts, path, "x")

	resp := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{Path: path})
	defer resp.Body.Close()
	var pending protocol.ConfirmationRequiredResponse
	json.NewDecoder(resp.Body).Decode(&pending)

	resp2 := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{
		Path:              path,
		ConfirmationToken: pending.ConfirmationToken,
	})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp2.StatusCode)
	}

	errResp := decodeError(t, resp2)
	if errResp.Code != protocol.CodeTokenExpired {
		t.Errorf("expected code %s, got %s", protocol.CodeTokenExpired, errResp.Code)
	}
	if errResp.Error != "Confirmation token has expired." {
		t.Errorf("unexpected error message %q", errResp.Error)
	}
}

func TestDeleteParameterMismatch(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	path := filepath.Join(root, "f.txt")
	writeViaAPI(t, ts, path, "x")

	resp := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{Path: path})
	defer resp.Body.Close()
	var pending protocol.ConfirmationRequiredResponse
	json.NewDecoder(resp.Body).Decode(&pending)

	// Same token, different recursive flag.
	resp2 := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{
		Path:              path,
		Recursive:         true,
		ConfirmationToken: pending.ConfirmationToken,
	})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp2.StatusCode)
	}

	errResp := decodeError(t, resp2)
	if errResp.Code != protocol.CodeParameterMismatch {
		t.Errorf("expected code %s, got %s", protocol.CodeParameterMismatch, errResp.Code)
	}

	// The mismatch must not consume the token; the original request
	// parameters still work.
	resp3 := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{
		Path:              path,
		ConfirmationToken: pending.ConfirmationToken,
	})
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp3.Body)
		t.Fatalf("expected delete to succeed after mismatch, got %d: %s", resp3.StatusCode, body)
	}
}

func TestDeleteNonEmptyDirectoryNeedsRecursive(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	dir := filepath.Join(root, "full")
	writeViaAPI(t, ts, filepath.Join(dir, "child.txt"), "x")

	resp := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{Path: dir})
	defer resp.Body.Close()
	var pending protocol.ConfirmationRequiredResponse
	json.NewDecoder(resp.Body).Decode(&pending)

	resp2 := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{
		Path:              dir,
		ConfirmationToken: pending.ConfirmationToken,
	})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		body, _ := io.ReadAll(resp2.Body)
		t.Fatalf("expected 400, got %d: %s", resp2.StatusCode, body)
	}

	errResp := decodeError(t, resp2)
	if errResp.Code != protocol.CodeDirectoryNotEmpty {
		t.Errorf("expected code %s, got %s", protocol.CodeDirectoryNotEmpty, errResp.Code)
	}
	if !strings.HasPrefix(errResp.Error, "Directory not empty.") {
		t.Errorf("unexpected error message %q", errResp.Error)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory removed despite refusal: %v", err)
	}
}

func TestDeleteDirectoryRecursive(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	dir := filepath.Join(root, "full")
	writeViaAPI(t, ts, filepath.Join(dir, "nested", "child.txt"), "x")

	resp := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{Path: dir, Recursive: true})
	defer resp.Body.Close()
	var pending protocol.ConfirmationRequiredResponse
	json.NewDecoder(resp.Body).Decode(&pending)

	resp2 := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{
		Path:              dir,
		Recursive:         true,
		ConfirmationToken: pending.ConfirmationToken,
	})
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp2.Body)
		t.Fatalf("expected 200, got %d: %s", resp2.StatusCode, body)
	}

	var success protocol.SuccessResponse
	json.NewDecoder(resp2.Body).Decode(&success)
	if success.Message != "Successfully deleted directory recursively: "+dir {
		t.Errorf("unexpected message %q", success.Message)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("directory still exists after recursive delete")
	}
}

func TestDeleteMissingPath(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	path := filepath.Join(root, "ghost.txt")

	resp := postJSON(t, ts.URL+"/delete_path", protocol.DeletePathRequest{Path: path})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	errResp := decodeError(t, resp)
	if errResp.Error != "Path not found: "+path {
		t.Errorf("unexpected error message %q", errResp.Error)
	}
}

func TestMovePath(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	src := filepath.Join(root, "old.txt")
	dst := filepath.Join(root, "new.txt")
	writeViaAPI(t, ts, src, "contents")

	resp := postJSON(t, ts.URL+"/move_path", protocol.MovePathRequest{SourcePath: src, DestinationPath: dst})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var success protocol.SuccessResponse
	json.NewDecoder(resp.Body).Decode(&success)
	want := "Successfully moved '" + src + "' to '" + dst + "'"
	if success.Message != want {
		t.Errorf("expected message %q, got %q", want, success.Message)
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source still exists after move")
	}
	content, err := os.ReadFile(dst)
	if err != nil || string(content) != "contents" {
		t.Errorf("destination content wrong: %q, %v", content, err)
	}
}

func TestMoveIntoExistingDirectory(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	src := filepath.Join(root, "file.txt")
	dir := filepath.Join(root, "archive")
	writeViaAPI(t, ts, src, "x")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, ts.URL+"/move_path", protocol.MovePathRequest{SourcePath: src, DestinationPath: dir})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	if _, err := os.Stat(filepath.Join(dir, "file.txt")); err != nil {
		t.Errorf("file not placed under destination directory: %v", err)
	}
}

func TestMoveSourceMissing(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	src := filepath.Join(root, "ghost.txt")
	dst := filepath.Join(root, "anywhere.txt")

	resp := postJSON(t, ts.URL+"/move_path", protocol.MovePathRequest{SourcePath: src, DestinationPath: dst})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	errResp := decodeError(t, resp)
	if errResp.Error != "Source path not found: "+src {
		t.Errorf("unexpected error message %q", errResp.Error)
	}
}

func TestGetMetadata(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	path := filepath.Join(root, "info.txt")
	writeViaAPI(t, ts, path, "12345")

	resp := postJSON(t, ts.URL+"/get_metadata", protocol.GetMetadataRequest{Path: path})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var m models.Metadata
	json.NewDecoder(resp.Body).Decode(&m)
	if m.Type != models.KindFile {
		t.Errorf("expected type file, got %q", m.Type)
	}
	if m.SizeBytes != 5 {
		t.Errorf("expected size 5, got %d", m.SizeBytes)
	}
	if m.Modified.IsZero() || m.Created.IsZero() || m.Changed.IsZero() {
		t.Errorf("expected all timestamps set: %+v", m)
	}
	if filepath.Base(m.Path) != "info.txt" {
		t.Errorf("unexpected metadata path %q", m.Path)
	}
}

func TestGetMetadataMissing(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)
	path := filepath.Join(root, "ghost")

	resp := postJSON(t, ts.URL+"/get_metadata", protocol.GetMetadataRequest{Path: path})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	errResp := decodeError(t, resp)
	if errResp.Error != "Path not found: "+path {
		t.Errorf("unexpected error message %q", errResp.Error)
	}
}

func TestListAllowedDirectories(t *testing.T) {
	ts, root, _ := newTestServer(t, time.Minute)

	resp, err := http.Get(ts.URL + "/list_allowed_directories")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result protocol.ListAllowedDirectoriesResponse
	json.NewDecoder(resp.Body).Decode(&result)
	if len(result.AllowedDirectories) != 1 {
		t.Fatalf("expected one allowed directory, got %v", result.AllowedDirectories)
	}
	if !strings.Contains(result.AllowedDirectories[0], filepath.Base(root)) {
		t.Errorf("allowed directory %q does not match test root", result.AllowedDirectories[0])
	}
}

func TestInvalidRequestBody(t *testing.T) {
	ts, _, _ := newTestServer(t, time.Minute)

	resp, err := http.Post(ts.URL+"/read_file", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	errResp := decodeError(t, resp)
	if errResp.Code != protocol.CodeInvalidArgument {
		t.Errorf("expected code %s, got %s", protocol.CodeInvalidArgument, errResp.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts, _, _ := newTestServer(t, time.Minute)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/read_file", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing permissive CORS header")
	}
}

func TestEventsStreamDeliversWrite(t *testing.T) {
	ts, root, broadcaster := newTestServer(t, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	// Wait for the handler goroutine to register its subscription before
	// triggering the write.
	deadline := time.Now().Add(2 * time.Second)
	for broadcaster.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	writeViaAPI(t, ts, filepath.Join(root, "watched.txt"), "x")

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	if eventLine != "event: create" {
		t.Errorf("expected create event, got %q", eventLine)
	}
	if !strings.Contains(dataLine, "watched.txt") {
		t.Errorf("event payload %q does not mention the written file", dataLine)
	}
}
