// Package models defines the data structures shared between the directory
// walker, the API layer, and clients.
package models

import "time"

// Entry kinds reported by listings, trees, and metadata.
const (
	KindFile      = "file"
	KindDirectory = "directory"
	KindOther     = "other"
)

// DirectoryEntry is a single immediate child of a listed directory.
type DirectoryEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TreeNode is one node of a recursive directory tree. Children is present
// (possibly empty) for directories and absent for files.
type TreeNode struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Children *[]TreeNode `json:"children,omitempty"`
}

// ContentMatch is a single line hit produced by a content search.
type ContentMatch struct {
	FilePath    string `json:"file_path"`
	LineNumber  int    `json:"line_number"`
	LineContent string `json:"line_content"`
}

// SkippedFile records a file a content search could not read. The search
// continues past these; they are reported, not fatal.
type SkippedFile struct {
	FilePath string `json:"file_path"`
	Reason   string `json:"reason"`
}

// Metadata describes a file or directory. All timestamps are UTC. Created
// is the platform birth time where available, otherwise the metadata change
// time.
type Metadata struct {
	Path      string    `json:"path"`
	Type      string    `json:"type"`
	SizeBytes int64     `json:"size_bytes"`
	Modified  time.Time `json:"modification_time_utc"`
	Created   time.Time `json:"creation_time_utc"`
	Changed   time.Time `json:"last_metadata_change_time_utc"`
}
