// Package manifest implements the DownloadSession record from spec §4.5: a
// pure-data session history checkpointed to the same durable store the
// cache uses, enabling inspection and future resumption.
package manifest

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/srtm-tiles/srtmpack/internal/errs"
	"github.com/srtm-tiles/srtmpack/internal/tileid"
)

// Status is one of the session lifecycle states from spec §3.
type Status string

const (
	StatusPlanning    Status = "planning"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusFailed      Status = "failed"
)

// Failure records why a tile failed and how many attempts were made.
type Failure struct {
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
}

// Progress mirrors spec §3's progress sub-record.
type Progress struct {
	BytesDownloaded int64 `json:"bytesDownloaded"`
	StartedAt       int64 `json:"startedAt"` // epoch-ms
}

// Session mirrors spec §3's DownloadSession (aka Manifest).
type Session struct {
	SessionID string             `json:"sessionId"`
	CreatedAt int64              `json:"createdAt"` // epoch-ms
	Tiles     []tileid.ID        `json:"tiles"`
	Completed map[string]bool    `json:"completed"`
	Failed    map[string]Failure `json:"failed"`
	Skipped   map[string]bool    `json:"skipped"`
	Status    Status             `json:"status"`
	Progress  Progress           `json:"progress"`
}

// NewSessionID generates an opaque session identifier. By default it is
// derived from the current UTC time; it is a function value so callers in
// deterministic tests can substitute their own.
var NewSessionID = func() string {
	return time.Now().UTC().Format("20060102T150405.000000000Z")
}

// CreateSession builds a fresh planning-stage session for the given tile
// plan, in submission order (spec §4.5, §5 "ordering").
func CreateSession(tiles []tileid.ID) Session {
	now := time.Now().UnixMilli()
	return Session{
		SessionID: NewSessionID(),
		CreatedAt: now,
		Tiles:     append([]tileid.ID(nil), tiles...),
		Completed: make(map[string]bool),
		Failed:    make(map[string]Failure),
		Skipped:   make(map[string]bool),
		Status:    StatusPlanning,
		Progress:  Progress{StartedAt: now},
	}
}

// MarkTileCompleted records a successful tile and returns the updated
// session. completed and failed are disjoint by construction (spec §3).
func MarkTileCompleted(s Session, id tileid.ID) Session {
	delete(s.Failed, id.String())
	s.Completed[id.String()] = true
	return s
}

// MarkTileFailed records a failed tile with its reason and attempt count.
func MarkTileFailed(s Session, id tileid.ID, reason string, attempts int) Session {
	delete(s.Completed, id.String())
	s.Failed[id.String()] = Failure{Reason: reason, Attempts: attempts}
	return s
}

// MarkTileSkipped records an ocean/void tile (spec §4.6: 404 is not an
// error, and a skipped tile still counts toward `current` progress).
func MarkTileSkipped(s Session, id tileid.ID) Session {
	s.Skipped[id.String()] = true
	return s
}

// UpdateStatus transitions the session to a new status. The core's state
// machine (spec §4.6) only moves planning -> downloading -> (completed |
// failed | cancelled), with paused <-> downloading reserved for future use;
// this function does not itself enforce the monotonicity invariant, since
// the caller (download.Manager) is the sole place transitions originate.
func UpdateStatus(s Session, status Status) Session {
	s.Status = status
	return s
}

// UpdateProgress updates the byte/speed-adjacent progress fields. It does
// NOT touch tile counts: per spec §4.6, tile-count progress lives solely in
// download.Manager's tilesCompleted/tilesTotal to avoid double counting.
func UpdateProgress(s Session, bytesDownloaded int64) Session {
	s.Progress.BytesDownloaded = bytesDownloaded
	return s
}

// Statistics mirrors spec §4.5's getStatistics result.
type Statistics struct {
	Total           int
	Completed       int
	Failed          int
	Skipped         int
	ElapsedMs       int64
	BytesDownloaded int64
}

// GetStatistics summarizes a session.
func GetStatistics(s Session) Statistics {
	return Statistics{
		Total:           len(s.Tiles),
		Completed:       len(s.Completed),
		Failed:          len(s.Failed),
		Skipped:         len(s.Skipped),
		ElapsedMs:       time.Now().UnixMilli() - s.Progress.StartedAt,
		BytesDownloaded: s.Progress.BytesDownloaded,
	}
}

// Store persists and loads sessions against a shared sql.DB handle, the
// same one tilecache.Store opens (spec §4.5: "the same durable store").
type Store struct {
	db *sql.DB
}

// NewStore wraps db for manifest persistence. Call Init once before use.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the sessions table if missing.
func (st *Store) Init() error {
	_, err := st.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			payload    TEXT NOT NULL
		);
	`)
	if err != nil {
		return errs.Storage("failed to initialize manifest schema", err)
	}
	return nil
}

// Save persists session. Per spec §4.5, save is best-effort: callers
// should log a returned error, not abort the download over it.
func (st *Store) Save(s Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return errs.Storage("failed to marshal session", err)
	}
	_, err = st.db.Exec(`
		INSERT INTO sessions (session_id, created_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET payload = excluded.payload
	`, s.SessionID, s.CreatedAt, string(payload))
	if err != nil {
		return errs.Storage("failed to save session", err)
	}
	return nil
}

// Load retrieves a previously saved session by id, for replay-based
// resumption (spec §1: "cross-session resumption ... by replaying a
// supplied manifest").
func (st *Store) Load(sessionID string) (*Session, error) {
	var payload string
	row := st.db.QueryRow(`SELECT payload FROM sessions WHERE session_id = ?`, sessionID)
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errs.Storage("failed to load session", err)
	}
	var s Session
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, errs.Storage("failed to unmarshal session", err)
	}
	return &s, nil
}
