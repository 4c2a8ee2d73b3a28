package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petervdpas/peercall/internal/call"
)

// timeLayout sorts lexically, unlike RFC3339Nano which trims zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DefaultListLimit caps ListCalls when the caller passes no limit.
const DefaultListLimit = 50

var _ call.Recorder = (*DB)(nil)

// RecordCall stores a finished negotiation round. Recording the same id
// twice replaces the earlier row.
func (d *DB) RecordCall(ctx context.Context, rec call.CallRecord) error {
	if rec.ID == "" {
		return errors.New("call record without id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO calls
			(id, local_peer, remote_peer, direction, started_at, ended_at, final_state, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at    = excluded.ended_at,
			final_state = excluded.final_state,
			error       = excluded.error`,
		rec.ID, string(rec.LocalPeer), string(rec.RemotePeer), string(rec.Direction),
		rec.StartedAt.UTC().Format(timeLayout), rec.EndedAt.UTC().Format(timeLayout),
		rec.FinalState.String(), rec.Error,
	)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// ListCalls returns the most recent calls first.
func (d *DB) ListCalls(ctx context.Context, limit int) ([]call.CallRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, local_peer, remote_peer, direction, started_at, ended_at, final_state, error
		FROM calls
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []call.CallRecord
	for rows.Next() {
		var (
			rec                   call.CallRecord
			local, remote, dir    string
			started, ended, final string
		)
		if err := rows.Scan(&rec.ID, &local, &remote, &dir, &started, &ended, &final, &rec.Error); err != nil {
			return nil, err
		}
		rec.LocalPeer = call.PeerIdentity(local)
		rec.RemotePeer = call.PeerIdentity(remote)
		rec.Direction = call.Direction(dir)
		if rec.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("call %s: %w", rec.ID, err)
		}
		if rec.EndedAt, err = parseTime(ended); err != nil {
			return nil, fmt.Errorf("call %s: %w", rec.ID, err)
		}
		if st, ok := call.ParseCallState(final); ok {
			rec.FinalState = st
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentPeer summarises calls with one remote peer.
type RecentPeer struct {
	PeerID   call.PeerIdentity `json:"peer_id"`
	Calls    int               `json:"calls"`
	Failed   int               `json:"failed"`
	LastCall time.Time         `json:"last_call"`
}

// RecentPeers lists remote peers by most recent call, for redialing.
func (d *DB) RecentPeers(ctx context.Context, limit int) ([]RecentPeer, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.QueryContext(ctx, `
		SELECT remote_peer,
		       COUNT(*),
		       SUM(CASE WHEN final_state = 'failed' THEN 1 ELSE 0 END),
		       MAX(started_at)
		FROM calls
		GROUP BY remote_peer
		ORDER BY MAX(started_at) DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent peers: %w", err)
	}
	defer rows.Close()

	var out []RecentPeer
	for rows.Next() {
		var p RecentPeer
		var peer, last string
		if err := rows.Scan(&peer, &p.Calls, &p.Failed, &last); err != nil {
			return nil, err
		}
		p.PeerID = call.PeerIdentity(peer)
		if p.LastCall, err = parseTime(last); err != nil {
			return nil, fmt.Errorf("peer %s: %w", peer, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// parseTime reads a timestamp column. Columns are TEXT so the driver hands
// back exactly what RecordCall wrote.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
