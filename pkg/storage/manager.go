package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"imgrelay/pkg/naming"
)

// Manager writes fetched images and archives into an output directory without
// overwriting files that are already there
type Manager struct {
	outputDir string
	registry  *naming.Registry
	saved     int
	mu        sync.Mutex
}

// NewManager creates a new storage manager
func NewManager(outputDir string) (*Manager, error) {
	// Create output directory if it doesn't exist
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	manager := &Manager{
		outputDir: outputDir,
		registry:  naming.NewRegistry(),
	}

	// Existing files keep their names; new ones get suffixes
	if err := manager.scanExistingFiles(); err != nil {
		return nil, fmt.Errorf("failed to scan existing files: %w", err)
	}

	return manager, nil
}

// scanExistingFiles reserves the name of every file already in the directory
func (m *Manager) scanExistingFiles() error {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			m.registry.Reserve(entry.Name())
		}
	}

	return nil
}

// SaveImage picks a unique name for the image and writes it atomically.
// It returns the path written.
func (m *Manager) SaveImage(suggested, contentType, rawURL string, data []byte) (string, error) {
	m.mu.Lock()
	name := m.registry.Resolve(suggested, naming.Sniff(contentType, data), rawURL)
	m.mu.Unlock()

	path := filepath.Join(m.outputDir, name)
	if err := writeAtomic(path, bytes.NewReader(data)); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.saved++
	m.mu.Unlock()
	return path, nil
}

// Create opens a file named after name (made unique) for streaming writes.
// Nothing appears under the final name until Commit.
func (m *Manager) Create(name string) (*AtomicFile, error) {
	m.mu.Lock()
	name = m.uniqueName(naming.Sanitize(name))
	m.mu.Unlock()

	path := filepath.Join(m.outputDir, name)
	tmp, err := os.CreateTemp(m.outputDir, "."+name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	return &AtomicFile{File: tmp, path: path, onCommit: m.countSaved}, nil
}

// uniqueName is Registry.Resolve for names that are not images
func (m *Manager) uniqueName(name string) string {
	if !m.registry.Taken(name) {
		m.registry.Reserve(name)
		return name
	}
	ext := filepath.Ext(name)
	base := name[:len(name)-len(ext)]
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", base, n, ext)
		if !m.registry.Taken(candidate) {
			m.registry.Reserve(candidate)
			return candidate
		}
	}
}

func (m *Manager) countSaved() {
	m.mu.Lock()
	m.saved++
	m.mu.Unlock()
}

// GetOutputDir returns the output directory path
func (m *Manager) GetOutputDir() string {
	return m.outputDir
}

// GetSavedCount returns the number of files written by this manager
func (m *Manager) GetSavedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved
}

// AtomicFile is a temporary file renamed into place on Commit
type AtomicFile struct {
	*os.File
	path     string
	done     bool
	onCommit func()
}

// Path returns the final path of the file
func (f *AtomicFile) Path() string {
	return f.path
}

// Commit closes the file and renames it to its final path
func (f *AtomicFile) Commit() error {
	if f.done {
		return nil
	}
	f.done = true

	tmp := f.File.Name()
	if err := f.File.Close(); err != nil {
		os.Remove(tmp) // Clean up temp file
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp) // Clean up temp file
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	if f.onCommit != nil {
		f.onCommit()
	}
	return nil
}

// Abort discards the file. It is a no-op after Commit.
func (f *AtomicFile) Abort() {
	if f.done {
		return
	}
	f.done = true
	f.File.Close()
	os.Remove(f.File.Name())
}

// writeAtomic writes r to path through a temporary file and a rename
func writeAtomic(path string, r io.Reader) error {
	// Create temporary file first
	tempFile := path + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	// Copy data
	_, err = io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile) // Clean up temp file
		return fmt.Errorf("failed to save image data: %w", err)
	}

	if closeErr != nil {
		os.Remove(tempFile) // Clean up temp file
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	// Atomic rename
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile) // Clean up temp file
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}
