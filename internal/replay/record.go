package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/statetree/server/internal/land"
)

// FormatVersion is bumped whenever the record layout changes shape.
const FormatVersion = 1

// EnvRecordsDir overrides where reevaluation records live.
const EnvRecordsDir = "REEVALUATION_RECORDS_DIR"

const defaultRecordsDir = "./reevaluation-records"

// RecordsDir resolves the records directory from the environment.
func RecordsDir() string {
	if dir := os.Getenv(EnvRecordsDir); dir != "" {
		return dir
	}
	return defaultRecordsDir
}

// Header is the first line of a record file. LandID feeds the replay
// keeper's RNG seed derivation; the rest is compatibility metadata.
type Header struct {
	LandType            string    `json:"landType"`
	LandDefinitionID    string    `json:"landDefinitionID"`
	RecordFormatVersion int       `json:"recordFormatVersion"`
	LandID              string    `json:"landID"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Record is a fully loaded record file: header plus ordered op entries.
type Record struct {
	Header  Header
	Entries []land.RecordEntry
}

// ReadRecord loads a record file written by the Recorder: a header line
// followed by one JSON entry per line.
func ReadRecord(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open record %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read record %s: %w", path, err)
		}
		return nil, fmt.Errorf("record %s is empty", path)
	}
	var rec Record
	if err := json.Unmarshal(sc.Bytes(), &rec.Header); err != nil {
		return nil, fmt.Errorf("record %s: bad header: %w", path, err)
	}
	line := 1
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e land.RecordEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("record %s line %d: %w", path, line, err)
		}
		rec.Entries = append(rec.Entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read record %s: %w", path, err)
	}
	return &rec, nil
}
