package pending

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

type FileRepository struct {
	path string
	mu   sync.Mutex
}

func NewFileRepository(path string) (*FileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("touch file: %w", err)
	}
	_ = f.Close()
	return &FileRepository{path: path}, nil
}

func (r *FileRepository) LoadAll() ([]Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadUnlocked()
}

func (r *FileRepository) Upsert(actor Actor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	actors, _ := r.loadUnlocked()
	updated := false
	for i, a := range actors {
		if a.ID == actor.ID {
			actors[i] = actor
			updated = true
			break
		}
	}
	if !updated {
		actors = append(actors, actor)
	}
	return r.saveUnlocked(actors)
}

func (r *FileRepository) Remove(actorID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	actors, _ := r.loadUnlocked()
	var out []Actor
	for _, a := range actors {
		if a.ID != actorID {
			out = append(out, a)
		}
	}
	return r.saveUnlocked(out)
}

func (r *FileRepository) loadUnlocked() ([]Actor, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	var actors []Actor
	dec := json.NewDecoder(f)
	if err := dec.Decode(&actors); err != nil {
		if err == io.EOF {
			return []Actor{}, nil
		}
		// empty or malformed -> start fresh
		return []Actor{}, nil
	}
	return actors, nil
}

func (r *FileRepository) saveUnlocked(actors []Actor) error {
	f, err := os.OpenFile(r.path, os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(actors)
}
