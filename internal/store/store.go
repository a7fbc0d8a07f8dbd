package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"kasmix/internal/config"
)

// ErrNotFound is returned when a session id has no matching row.
var ErrNotFound = errors.New("session not found")

// Store is the single-writer, append/update session store (§3 "Persisted
// session format"). Every read and write method is serialized through mu,
// so two monitor ticks can never interleave a read-modify-write cycle on
// the same row.
type Store struct {
	mu sync.Mutex
	db *db
}

// Open opens (and migrates) the session store at path.
func Open(path string) (*Store, error) {
	d, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &Store{db: d}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// mergeDocument overlays the fields of next onto the existing raw document,
// preserving any key present in existing but absent from next — the
// "unknown fields preserved on read/write" guarantee of §6.
func mergeDocument(existing []byte, next any) ([]byte, error) {
	merged := make(map[string]json.RawMessage)
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			return nil, fmt.Errorf("unmarshal existing document: %w", err)
		}
	}

	nextRaw, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("marshal next document: %w", err)
	}
	var nextMap map[string]json.RawMessage
	if err := json.Unmarshal(nextRaw, &nextMap); err != nil {
		return nil, fmt.Errorf("unmarshal next document: %w", err)
	}

	for k, v := range nextMap {
		merged[k] = v
	}

	return json.Marshal(merged)
}

// --- Mixing sessions ---

// PutMixingSession inserts or replaces a mixing session document, merging
// onto any existing row so unrecognized fields survive.
func (s *Store) PutMixingSession(m *MixingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.SchemaVersion == 0 {
		m.SchemaVersion = CurrentSchemaVersion
	}

	var existing []byte
	row := s.db.conn.QueryRow(`SELECT document FROM mixing_sessions WHERE id = ?`, m.ID)
	switch err := row.Scan(&existing); {
	case err == nil, errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("load existing mixing session %s: %w", m.ID, err)
	}

	doc, err := mergeDocument(existing, m)
	if err != nil {
		return fmt.Errorf("merge mixing session %s: %w", m.ID, err)
	}

	_, err = s.db.conn.Exec(`
		INSERT INTO mixing_sessions (id, status, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, document = excluded.document, updated_at = excluded.updated_at
	`, m.ID, string(m.Status), string(doc), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("persist mixing session %s: %w", m.ID, err)
	}
	return nil
}

// GetMixingSession loads a mixing session by id.
func (s *Store) GetMixingSession(id string) (*MixingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc string
	row := s.db.conn.QueryRow(`SELECT document FROM mixing_sessions WHERE id = ?`, id)
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load mixing session %s: %w", id, err)
	}

	var m MixingSession
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("decode mixing session %s: %w", id, err)
	}
	return &m, nil
}

// ListMixingSessions returns every mixing session, private keys redacted.
func (s *Store) ListMixingSessions() ([]MixingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.conn.Query(`SELECT document FROM mixing_sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list mixing sessions: %w", err)
	}
	defer rows.Close()

	var out []MixingSession
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan mixing session row: %w", err)
		}
		var m MixingSession
		if err := json.Unmarshal([]byte(doc), &m); err != nil {
			return nil, fmt.Errorf("decode mixing session: %w", err)
		}
		out = append(out, m.Redacted())
	}
	return out, rows.Err()
}

// ListMixingSessionsByStatus returns sessions in the given status, with keys
// intact, for the monitor loops to act on.
func (s *Store) ListMixingSessionsByStatus(status MixingSessionStatus) ([]MixingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.conn.Query(`SELECT document FROM mixing_sessions WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list mixing sessions by status %s: %w", status, err)
	}
	defer rows.Close()

	var out []MixingSession
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan mixing session row: %w", err)
		}
		var m MixingSession
		if err := json.Unmarshal([]byte(doc), &m); err != nil {
			return nil, fmt.Errorf("decode mixing session: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMixingSession removes a mixing session permanently.
func (s *Store) DeleteMixingSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.conn.Exec(`DELETE FROM mixing_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete mixing session %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// --- CoinJoin sessions ---

// PutCoinJoinSession inserts or replaces a coinjoin session document.
func (s *Store) PutCoinJoinSession(c *CoinJoinSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.SchemaVersion == 0 {
		c.SchemaVersion = CurrentSchemaVersion
	}
	if c.ParticipantCountTarget == 0 {
		c.ParticipantCountTarget = config.ParticipantCountTarget
	}

	var existing []byte
	row := s.db.conn.QueryRow(`SELECT document FROM coinjoin_sessions WHERE id = ?`, c.ID)
	switch err := row.Scan(&existing); {
	case err == nil, errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("load existing coinjoin session %s: %w", c.ID, err)
	}

	doc, err := mergeDocument(existing, c)
	if err != nil {
		return fmt.Errorf("merge coinjoin session %s: %w", c.ID, err)
	}

	_, err = s.db.conn.Exec(`
		INSERT INTO coinjoin_sessions (id, status, per_participant_amount, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, per_participant_amount = excluded.per_participant_amount,
			document = excluded.document, updated_at = excluded.updated_at
	`, c.ID, string(c.Status), uint64(c.PerParticipantAmount), string(doc), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("persist coinjoin session %s: %w", c.ID, err)
	}
	return nil
}

// GetCoinJoinSession loads a coinjoin session by id.
func (s *Store) GetCoinJoinSession(id string) (*CoinJoinSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc string
	row := s.db.conn.QueryRow(`SELECT document FROM coinjoin_sessions WHERE id = ?`, id)
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load coinjoin session %s: %w", id, err)
	}

	var c CoinJoinSession
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return nil, fmt.Errorf("decode coinjoin session %s: %w", id, err)
	}
	return &c, nil
}

// ListCoinJoinSessions returns every coinjoin session.
func (s *Store) ListCoinJoinSessions() ([]CoinJoinSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCoinJoinSessionsLocked(`SELECT document FROM coinjoin_sessions ORDER BY created_at`)
}

// ListCoinJoinSessionsByAmount returns sessions sharing per_participant_amount
// and status, used by the round-formation logic (§4.4.2).
func (s *Store) ListCoinJoinSessionsByAmount(amount Sompi, status CoinJoinSessionStatus) ([]CoinJoinSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.conn.Query(`
		SELECT document FROM coinjoin_sessions WHERE per_participant_amount = ? AND status = ? ORDER BY created_at
	`, uint64(amount), string(status))
	if err != nil {
		return nil, fmt.Errorf("list coinjoin sessions by amount: %w", err)
	}
	defer rows.Close()
	return scanCoinJoinRows(rows)
}

// ListDistinctRevealedAmounts returns every per_participant_amount value
// with at least one session currently in the revealed state, used to drive
// round formation across whatever amount tiers are actually in use (§4.4.2).
func (s *Store) ListDistinctRevealedAmounts() ([]Sompi, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.conn.Query(`
		SELECT DISTINCT per_participant_amount FROM coinjoin_sessions WHERE status = ?
	`, string(CoinJoinRevealed))
	if err != nil {
		return nil, fmt.Errorf("list distinct revealed amounts: %w", err)
	}
	defer rows.Close()

	var amounts []Sompi
	for rows.Next() {
		var amount uint64
		if err := rows.Scan(&amount); err != nil {
			return nil, fmt.Errorf("scan distinct revealed amount: %w", err)
		}
		amounts = append(amounts, Sompi(amount))
	}
	return amounts, rows.Err()
}

// ListCoinJoinSessionsByRound returns every session sharing round_id,
// regardless of status, used by the assembler and submitter (§4.4.4-6).
func (s *Store) ListCoinJoinSessionsByRound(roundID string) ([]CoinJoinSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCoinJoinSessionsLocked(
		`SELECT document FROM coinjoin_sessions WHERE json_extract(document, '$.round_id') = ? ORDER BY created_at`, roundID)
}

func (s *Store) listCoinJoinSessionsLocked(query string, args ...any) ([]CoinJoinSession, error) {
	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list coinjoin sessions: %w", err)
	}
	defer rows.Close()
	return scanCoinJoinRows(rows)
}

func scanCoinJoinRows(rows *sql.Rows) ([]CoinJoinSession, error) {
	var out []CoinJoinSession
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan coinjoin session row: %w", err)
		}
		var c CoinJoinSession
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return nil, fmt.Errorf("decode coinjoin session: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AllCoinJoinOutpoints returns the union of outpoints referenced by every
// coinjoin session regardless of status, including completed ones — the
// exclude-set required by §4.3's locked-output tracking and §3's
// never-reuse invariant.
func (s *Store) AllCoinJoinOutpoints() (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.listCoinJoinSessionsLocked(`SELECT document FROM coinjoin_sessions`)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, c := range sessions {
		for _, u := range c.OriginalUTXOs {
			set[fmt.Sprintf("%s:%d", u.TxID, u.Index)] = struct{}{}
		}
		for _, u := range c.RevealedUTXOs {
			set[fmt.Sprintf("%s:%d", u.TxID, u.Index)] = struct{}{}
		}
	}
	return set, nil
}

// DeleteCoinJoinSession removes a coinjoin session permanently.
func (s *Store) DeleteCoinJoinSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.conn.Exec(`DELETE FROM coinjoin_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete coinjoin session %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Stats returns session counts grouped by status for both subsystems (§4.6 stats).
func (s *Store) Stats() (mixing map[MixingSessionStatus]int, coinjoin map[CoinJoinSessionStatus]int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mixing = make(map[MixingSessionStatus]int)
	rows, err := s.db.conn.Query(`SELECT status, COUNT(*) FROM mixing_sessions GROUP BY status`)
	if err != nil {
		return nil, nil, fmt.Errorf("mixing stats: %w", err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan mixing stats: %w", err)
		}
		mixing[MixingSessionStatus(status)] = count
	}
	rows.Close()

	coinjoin = make(map[CoinJoinSessionStatus]int)
	rows, err = s.db.conn.Query(`SELECT status, COUNT(*) FROM coinjoin_sessions GROUP BY status`)
	if err != nil {
		return nil, nil, fmt.Errorf("coinjoin stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, nil, fmt.Errorf("scan coinjoin stats: %w", err)
		}
		coinjoin[CoinJoinSessionStatus(status)] = count
	}
	return mixing, coinjoin, rows.Err()
}
