package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/statetree/server/internal/land"
)

// Recorder appends committed ops to a JSON-lines record file. The keeper
// calls Append after every op; each line is flushed so a crash loses at
// most the op in flight.
type Recorder struct {
	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer
	enc *json.Encoder
}

// NewRecorder creates the record file and writes its header.
func NewRecorder(dir string, id land.LandID, def *land.Definition) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("records dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s-%d.jsonl", sanitize(id.String()), time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	r := &Recorder{f: f, w: bufio.NewWriter(f)}
	r.enc = json.NewEncoder(r.w)
	header := Header{
		LandType:            id.Type,
		LandDefinitionID:    def.ID(),
		RecordFormatVersion: FormatVersion,
		LandID:              id.String(),
		CreatedAt:           time.Now().UTC(),
	}
	if err := r.enc.Encode(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write record header: %w", err)
	}
	if err := r.w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// Append writes one committed op.
func (r *Recorder) Append(e land.RecordEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(e); err != nil {
		return fmt.Errorf("record append: %w", err)
	}
	return r.w.Flush()
}

// Close flushes and closes the record file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}

// Factory returns a land.Recorder factory bound to a directory, for
// wiring into RealmOptions.NewRecorder.
func Factory(dir string, log *zap.Logger) func(id land.LandID, def *land.Definition) (land.Recorder, error) {
	return func(id land.LandID, def *land.Definition) (land.Recorder, error) {
		rec, err := NewRecorder(dir, id, def)
		if err != nil {
			return nil, err
		}
		log.Info("recording land", zap.String("land", id.String()))
		return rec, nil
	}
}
