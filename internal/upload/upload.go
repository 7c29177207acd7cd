package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"filedeck/internal/fileops"
	"filedeck/internal/fsutil"
)

// A resumable upload protocol for files larger than one request:
// - POST   /api/uploads?p=<dir>&name=<file>&size=<total> => {id, offset}
// - PATCH  /api/uploads/<id> (Content-Range: bytes <start>-<end>/<total>) body=chunk
// - POST   /api/uploads/<id>/finish => placed into <dir> like a form upload
//
// State lives on disk in <stateDir>/uploads/<id>.{part,json} so a restart
// does not lose progress.

var (
	ErrUnknownUpload = errors.New("unknown upload")
	ErrBusy          = errors.New("another chunk is being written")
	ErrIncomplete    = errors.New("upload incomplete")
)

// Placer stores a finished upload in its destination directory.
type Placer interface {
	CheckUpload(name string, size int64) error
	PlaceUpload(rel, name, tmpPath string) (string, error)
}

type Manager struct {
	dir    string
	placer Placer
	log    *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	uploads map[string]*State
	busy    map[string]bool
}

// State is the persisted progress of one upload.
type State struct {
	ID      string `json:"id"`
	DestRel string `json:"destRel"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Offset  int64  `json:"offset"`
	Created int64  `json:"created"`
	Owner   string `json:"owner,omitempty"`
}

func New(stateDir string, placer Placer, log *zap.Logger) (*Manager, error) {
	dir := filepath.Join(stateDir, "uploads")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		dir:     dir,
		placer:  placer,
		log:     log,
		now:     time.Now,
		uploads: map[string]*State{},
		busy:    map[string]bool{},
	}
	if err := m.loadExisting(); err != nil {
		log.Warn("reading upload state", zap.Error(err))
	}
	return m, nil
}

func (m *Manager) loadExisting() error {
	ents, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var s State
		if json.Unmarshal(b, &s) != nil || uuid.Validate(s.ID) != nil {
			continue
		}
		m.uploads[s.ID] = &s
	}
	return nil
}

// Create registers an upload of size bytes for dir/name. The name, size and
// extension are checked now so a client learns about a rejection before
// sending any data.
func (m *Manager) Create(destRel, name string, size int64, owner string) (State, error) {
	if err := m.placer.CheckUpload(name, size); err != nil {
		return State{}, err
	}
	s := &State{
		ID:      uuid.NewString(),
		DestRel: fsutil.Normalize(destRel),
		Name:    name,
		Size:    size,
		Created: m.now().Unix(),
		Owner:   owner,
	}
	if err := m.save(s); err != nil {
		return State{}, err
	}
	m.mu.Lock()
	m.uploads[s.ID] = s
	m.mu.Unlock()
	m.log.Debug("upload created", zap.String("id", s.ID), zap.String("name", name), zap.Int64("size", size))
	return *s, nil
}

func (m *Manager) Get(id string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.uploads[id]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// acquire marks id busy so chunks of one upload are written one at a time.
func (m *Manager) acquire(id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.uploads[id]
	if !ok {
		return nil, ErrUnknownUpload
	}
	if m.busy[id] {
		return nil, ErrBusy
	}
	m.busy[id] = true
	return s, nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.busy, id)
	m.mu.Unlock()
}

// Patch appends one chunk. The chunk must start at the current offset.
func (m *Manager) Patch(ctx context.Context, id, contentRange string, body io.Reader) (State, error) {
	s, err := m.acquire(id)
	if err != nil {
		return State{}, err
	}
	defer m.release(id)

	start, end, total, err := parseContentRange(contentRange)
	if err != nil {
		return State{}, err
	}
	if start != s.Offset {
		return State{}, fmt.Errorf("offset mismatch: have %d want %d", s.Offset, start)
	}
	if total >= 0 && total != s.Size {
		return State{}, fmt.Errorf("size mismatch: have %d want %d", s.Size, total)
	}
	if end >= s.Size {
		return State{}, fmt.Errorf("chunk ends past declared size %d", s.Size)
	}

	partPath := filepath.Join(m.dir, id+".part")
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return State{}, err
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return State{}, err
	}

	want := (end - start) + 1
	wrote, err := io.CopyN(f, readerWithContext(ctx, body), want)
	if err != nil {
		return State{}, err
	}
	if wrote != want {
		return State{}, fmt.Errorf("short write: %d != %d", wrote, want)
	}
	if err := f.Sync(); err != nil {
		return State{}, err
	}

	m.mu.Lock()
	s.Offset += wrote
	cp := *s
	m.mu.Unlock()
	if err := m.save(&cp); err != nil {
		return State{}, err
	}
	return cp, nil
}

// Finish hands the completed file to the placer and forgets the upload.
// It returns the stored file name.
func (m *Manager) Finish(ctx context.Context, id string) (string, error) {
	s, err := m.acquire(id)
	if err != nil {
		return "", err
	}
	defer m.release(id)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Offset != s.Size {
		return "", fmt.Errorf("%w: offset=%d size=%d", ErrIncomplete, s.Offset, s.Size)
	}
	partPath := filepath.Join(m.dir, id+".part")
	st, err := os.Stat(partPath)
	if err != nil {
		return "", err
	}
	if st.Size() != s.Size {
		return "", fmt.Errorf("size mismatch: file=%d expected=%d", st.Size(), s.Size)
	}

	stored, err := m.placer.PlaceUpload(s.DestRel, s.Name, partPath)
	if err != nil {
		return "", err
	}
	m.forget(id)
	m.log.Info("chunked upload finished", zap.String("id", id), zap.String("dir", s.DestRel), zap.String("name", stored))
	return stored, nil
}

// Abort drops an upload and its partial data.
func (m *Manager) Abort(id string) error {
	if _, err := m.acquire(id); err != nil {
		return err
	}
	defer m.release(id)
	m.forget(id)
	return nil
}

// Sweep removes uploads created more than maxAge ago and returns how many
// were dropped.
func (m *Manager) Sweep(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge).Unix()
	m.mu.Lock()
	var stale []string
	for id, s := range m.uploads {
		if s.Created < cutoff && !m.busy[id] {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()
	for _, id := range stale {
		m.forget(id)
	}
	if len(stale) > 0 {
		m.log.Info("stale uploads removed", zap.Int("count", len(stale)))
	}
	return len(stale)
}

func (m *Manager) forget(id string) {
	_ = os.Remove(filepath.Join(m.dir, id+".part"))
	_ = os.Remove(filepath.Join(m.dir, id+".json"))
	m.mu.Lock()
	delete(m.uploads, id)
	m.mu.Unlock()
}

func (m *Manager) save(s *State) error {
	b, _ := json.MarshalIndent(s, "", "  ")
	tmp := filepath.Join(m.dir, s.ID+".json.tmp")
	final := filepath.Join(m.dir, s.ID+".json")
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}

func parseContentRange(v string) (start, end, total int64, err error) {
	// "bytes <start>-<end>/<total>" where total may be "*"
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes ") {
		return 0, 0, 0, errors.New("missing Content-Range (expected: bytes start-end/total)")
	}
	v = strings.TrimPrefix(v, "bytes ")
	rng, tot, ok := strings.Cut(v, "/")
	if !ok {
		return 0, 0, 0, errors.New("invalid Content-Range")
	}
	s, e, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, 0, errors.New("invalid Content-Range range")
	}
	start, err = strconv.ParseInt(s, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, 0, errors.New("invalid Content-Range start")
	}
	end, err = strconv.ParseInt(e, 10, 64)
	if err != nil || end < start {
		return 0, 0, 0, errors.New("invalid Content-Range end")
	}
	if tot == "*" {
		return start, end, -1, nil
	}
	total, err = strconv.ParseInt(tot, 10, 64)
	if err != nil || total <= 0 || end >= total {
		return 0, 0, 0, errors.New("invalid Content-Range total")
	}
	return start, end, total, nil
}

var _ Placer = (*fileops.Engine)(nil)
