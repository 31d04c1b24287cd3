package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ghgmatch/core/internal/domain"
)

// ErrRowNotAmbiguous is returned by ResolveRow when the row is not
// currently suspended awaiting resolution.
var ErrRowNotAmbiguous = errors.New("row is not in ambiguous state")

// ErrUUIDNotCandidate is returned by ResolveRow when the given uuid was not
// among the row's saved candidates.
var ErrUUIDNotCandidate = errors.New("uuid is not among the row's saved candidates")

// WorkerHandle is a worker-scoped connection lease; it implements the
// orchestrator.RowStore surface plus the remaining C8 operations
// (load_row, list_ambiguous, resolve_row); the resolve command uses
// ResolveRow and LoadRow. Never share a WorkerHandle across goroutines.
type WorkerHandle struct {
	conn *sql.Conn
}

// Close releases the leased connection back to the pool.
func (h *WorkerHandle) Close() error {
	return h.conn.Close()
}

// UpdateRowStatus writes a row's new status and, for errors, its message.
func (h *WorkerHandle) UpdateRowStatus(ctx context.Context, rowID string, status domain.RowStatus, errMsg string) error {
	_, err := h.conn.ExecContext(ctx,
		`UPDATE input_rows SET status = ?, error_message = ? WHERE id = ?`,
		string(status), errMsg, rowID)
	if err != nil {
		return fmt.Errorf("update row status for %s: %w", rowID, err)
	}
	return nil
}

// SaveCandidates persists the retriever's output for a row, replacing any
// previously saved set.
func (h *WorkerHandle) SaveCandidates(ctx context.Context, rowID string, candidates domain.CandidateSet) error {
	blob, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("marshal candidates for %s: %w", rowID, err)
	}
	_, err = h.conn.ExecContext(ctx,
		`INSERT INTO row_candidates (row_id, candidates_json) VALUES (?, ?)
		 ON CONFLICT(row_id) DO UPDATE SET candidates_json = excluded.candidates_json`,
		rowID, string(blob))
	if err != nil {
		return fmt.Errorf("save candidates for %s: %w", rowID, err)
	}
	return nil
}

// SaveResult persists a row's terminal RowResult.
func (h *WorkerHandle) SaveResult(ctx context.Context, rowID string, result domain.RowResult) error {
	componentsBlob, err := json.Marshal(result.Components)
	if err != nil {
		return fmt.Errorf("marshal components for %s: %w", rowID, err)
	}
	_, err = h.conn.ExecContext(ctx,
		`INSERT INTO row_results (
			row_id, decision_type, selected_uuid, biogenic_t, common_t,
			beschreibung, quelle, detailed_calc, components_json
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(row_id) DO UPDATE SET
			decision_type = excluded.decision_type,
			selected_uuid = excluded.selected_uuid,
			biogenic_t = excluded.biogenic_t,
			common_t = excluded.common_t,
			beschreibung = excluded.beschreibung,
			quelle = excluded.quelle,
			detailed_calc = excluded.detailed_calc,
			components_json = excluded.components_json`,
		rowID, string(result.DecisionType), result.SelectedUUID, result.BiogenicT, result.CommonT,
		result.Beschreibung, result.Quelle, result.DetailedCalc, string(componentsBlob))
	if err != nil {
		return fmt.Errorf("save result for %s: %w", rowID, err)
	}
	return nil
}

// LoadRow reads back one input row by id.
func (h *WorkerHandle) LoadRow(ctx context.Context, rowID string) (domain.InputRow, error) {
	row := h.conn.QueryRowContext(ctx, `
		SELECT id, job_id, row_index, bezeichnung, referenzeinheit,
		       produktinformationen, scope, kategorie, unterkategorie,
		       region, referenzjahr, status, error_message
		FROM input_rows WHERE id = ?`, rowID)

	var r domain.InputRow
	var scope, status string
	if err := row.Scan(
		&r.ID, &r.JobID, &r.RowIndex, &r.Bezeichnung, &r.Referenzeinheit,
		&r.Produktinformationen, &scope, &r.Kategorie, &r.Unterkategorie,
		&r.Region, &r.Referenzjahr, &status, &r.ErrorMessage,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InputRow{}, fmt.Errorf("row %s not found", rowID)
		}
		return domain.InputRow{}, fmt.Errorf("load row %s: %w", rowID, err)
	}
	r.Scope = domain.Scope(scope)
	r.Status = domain.RowStatus(status)
	return r, nil
}

// LoadCandidates reads back the saved candidate set for a row.
func (h *WorkerHandle) LoadCandidates(ctx context.Context, rowID string) (domain.CandidateSet, error) {
	var blob string
	err := h.conn.QueryRowContext(ctx, `SELECT candidates_json FROM row_candidates WHERE row_id = ?`, rowID).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no saved candidates for row %s", rowID)
		}
		return nil, fmt.Errorf("load candidates for %s: %w", rowID, err)
	}
	var candidates domain.CandidateSet
	if err := json.Unmarshal([]byte(blob), &candidates); err != nil {
		return nil, fmt.Errorf("unmarshal candidates for %s: %w", rowID, err)
	}
	return candidates, nil
}

// ListAmbiguous returns every row of a job currently suspended in the
// ambiguous state.
func (h *WorkerHandle) ListAmbiguous(ctx context.Context, jobID string) ([]domain.InputRow, error) {
	rows, err := h.conn.QueryContext(ctx,
		`SELECT id FROM input_rows WHERE job_id = ? AND status = ?`, jobID, string(domain.RowAmbiguous))
	if err != nil {
		return nil, fmt.Errorf("list ambiguous rows for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ambiguous row id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.InputRow, 0, len(ids))
	for _, id := range ids {
		r, err := h.LoadRow(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ResolveRow validates an external resolution choice: the row must
// currently be ambiguous and uuid must be among its saved candidates. It
// writes nothing and returns the saved candidates. It does not itself
// compute the result — the caller (the resolve command) runs the
// orchestrator's post-ambiguity tail, which calls SaveResult.
func (h *WorkerHandle) ResolveRow(ctx context.Context, rowID, selectedUUID string) (domain.CandidateSet, error) {
	row, err := h.LoadRow(ctx, rowID)
	if err != nil {
		return nil, err
	}
	if row.Status == domain.RowCalculated {
		// idempotent: a repeated resolve on an already-calculated row is a
		// no-op success, not a failure.
		return nil, nil
	}
	if row.Status != domain.RowAmbiguous {
		return nil, ErrRowNotAmbiguous
	}

	candidates, err := h.LoadCandidates(ctx, rowID)
	if err != nil {
		return nil, err
	}
	found := false
	for _, c := range candidates {
		if c.UUID == selectedUUID {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrUUIDNotCandidate
	}
	return candidates, nil
}
