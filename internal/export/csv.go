// Package export stages profile batches as CSV files for the bulk import
// endpoints.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Writer stages CSV files under a directory.
type Writer struct {
	dir string
}

// NewWriter ensures the staging directory exists.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Stage writes header + rows to a new uniquely named file and returns its
// path. The uuid suffix keeps concurrent cycles from colliding on the
// second-resolution timestamp.
func (w *Writer) Stage(storeCode, kind string, header []string, rows [][]string) (string, error) {
	name := fmt.Sprintf("%s_%s_%s_%s.csv",
		strings.ToLower(storeCode),
		kind,
		time.Now().UTC().Format("02_01_2006_150405"),
		uuid.New().String()[:8],
	)
	path := filepath.Join(w.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("flush staged file: %w", err)
	}
	return path, nil
}

// Remove deletes a staged file once its batch import completed. Failed
// batches keep their file so a reset can replay the import.
func (w *Writer) Remove(path string) error {
	return os.Remove(path)
}
