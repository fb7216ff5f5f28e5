package out

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"attacher/internal/modules/attach/domain"
	attachout "attacher/internal/modules/attach/port/out"
)

// FileManifestStore reads plugins.json, a JSON array of controller plugins.
// A missing file registers no plugins.
type FileManifestStore struct {
	homePath string
	path     string
}

func NewFileManifestStore(homePath, path string) attachout.ManifestStore {
	return &FileManifestStore{homePath: homePath, path: path}
}

func (s *FileManifestStore) Load(_ context.Context) ([]domain.Manifest, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open plugins file: %w", err)
	}
	defer f.Close()

	manifests, err := decodeManifests(f)
	if err != nil {
		return nil, fmt.Errorf("plugins file %s: %w", s.path, err)
	}
	for i := range manifests {
		manifests[i].Binary = s.binaryPath(manifests[i].Binary)
	}
	return manifests, nil
}

func decodeManifests(r io.Reader) ([]domain.Manifest, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	var manifests []domain.Manifest
	if err := decoder.Decode(&manifests); err != nil {
		return nil, err
	}
	if decoder.More() {
		return nil, errors.New("content after the manifest array")
	}
	return manifests, nil
}

// binaryPath anchors a relative plugin binary at the attacher home.
func (s *FileManifestStore) binaryPath(binary string) string {
	if binary == "" || filepath.IsAbs(binary) {
		return binary
	}
	return filepath.Clean(filepath.Join(s.homePath, binary))
}
