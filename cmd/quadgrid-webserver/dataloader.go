// SPDX-License-Identifier: MIT

package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DataLoader keeps track of the most recent grid export in the data
// directory. Reload is cheap when nothing changed, so it can be called
// periodically while the builder drops new files into the directory.
type DataLoader struct {
	Path string

	mutex    sync.Mutex
	filename string
	sha256   string
}

func NewDataLoader(path string) (*DataLoader, error) {
	dl := &DataLoader{Path: path}
	if err := dl.Reload(); err != nil {
		return nil, err
	}
	return dl, nil
}

// Get returns the file name and content hash of the latest grid export.
func (dl *DataLoader) Get() (filename, sha string) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.filename, dl.sha256
}

func (dl *DataLoader) Reload() error {
	files, err := os.ReadDir(dl.Path)
	if err != nil {
		return err
	}

	// Export file names carry the build date, so the lexicographically
	// largest name is the most recent export.
	var latest string
	for _, f := range files {
		name := f.Name()
		if strings.HasPrefix(name, "quadgrid-") && strings.HasSuffix(name, ".qgx") {
			if name > latest {
				latest = name
			}
		}
	}
	if len(latest) == 0 {
		return fmt.Errorf("no quadgrid-*.qgx files in %s", dl.Path)
	}

	dl.mutex.Lock()
	current := dl.filename
	dl.mutex.Unlock()
	if current == latest {
		return nil
	}

	f, err := os.Open(filepath.Join(dl.Path, latest))
	if err != nil {
		return err
	}
	defer f.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return err
	}

	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	dl.filename = latest
	dl.sha256 = hex.EncodeToString(hash.Sum(nil))
	return nil
}
