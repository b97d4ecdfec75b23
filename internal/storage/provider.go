// Package storage writes timeline exports below a root directory.
package storage

import "time"

// FileInfo describes one stored export file.
type FileInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Provider is the interface for export file operations. Paths are
// relative to the export root.
type Provider interface {
	// List returns every .md file under dir.
	List(dir string) ([]FileInfo, error)
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path.
	Write(path string, content []byte) error
	Delete(path string) error
}
