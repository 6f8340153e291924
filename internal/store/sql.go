package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	d       dialect
	onClose func()
}

var _ Store = (*SQLStore)(nil)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// migrate ensures the database schema is up to date
func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Driver names the backend, "sqlite" or "postgres".
func (s *SQLStore) Driver() string {
	return s.d.name()
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	err := s.db.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

// q expands the {seq} token and rebinds placeholders for the dialect.
func (s *SQLStore) q(query string) string {
	return s.d.bind(strings.ReplaceAll(query, "{seq}", s.d.seqColumn()))
}

func (s *SQLStore) withTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) wrap(what string, err error) error {
	if s.d.isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", what, ErrAlreadyExists)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// execOne runs a statement that must touch at least one row.
func (s *SQLStore) execOne(ctx context.Context, q querier, what, query string, args ...any) error {
	res, err := q.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return s.wrap(what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) exists(ctx context.Context, q querier, what, query string, args ...any) error {
	var one int
	err := q.QueryRowContext(ctx, s.q(query), args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func (s *SQLStore) workspaceExists(ctx context.Context, q querier, workspaceID string) error {
	return s.exists(ctx, q, fmt.Sprintf("workspace %q", workspaceID),
		"SELECT 1 FROM workspace WHERE id = ?", workspaceID)
}

func (s *SQLStore) layerExists(ctx context.Context, q querier, workspaceID, layerID string) error {
	return s.exists(ctx, q, fmt.Sprintf("layer %q", layerID),
		"SELECT 1 FROM layer WHERE id = ? AND workspace_id = ?", layerID, workspaceID)
}

// EnsureWorkspace creates the workspace and its first section if missing.
func (s *SQLStore) EnsureWorkspace(ctx context.Context, workspaceID string) error {
	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.q("INSERT INTO workspace (id) VALUES (?) ON CONFLICT (id) DO NOTHING"), workspaceID)
		if err != nil {
			return fmt.Errorf("insert workspace: %w", err)
		}
		created, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if created == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			s.q("INSERT INTO editor (workspace_id, index_pos, name, visible) VALUES (?, 0, ?, ?)"),
			workspaceID, DefaultSectionName, true,
		); err != nil {
			return fmt.Errorf("insert default section: %w", err)
		}
		return nil
	})
}

// GetState reads the whole workspace inside one transaction.
func (s *SQLStore) GetState(ctx context.Context, workspaceID string) (*WorkspaceState, error) {
	state := &WorkspaceState{WorkspaceID: workspaceID}
	err := s.withTx(ctx, s.d.readTx(), func(tx *sql.Tx) error {
		if err := s.workspaceExists(ctx, tx, workspaceID); err != nil {
			return err
		}

		layers, err := s.loadLayers(ctx, tx, workspaceID)
		if err != nil {
			return err
		}
		byID := make(map[string]*Layer, len(layers))
		for i := range layers {
			byID[layers[i].ID] = &layers[i]
		}
		if err := s.loadHighlights(ctx, tx, workspaceID, byID); err != nil {
			return err
		}
		if err := s.loadArrows(ctx, tx, workspaceID, byID); err != nil {
			return err
		}
		if err := s.loadUnderlines(ctx, tx, workspaceID, byID); err != nil {
			return err
		}
		state.Layers = layers

		editors, err := s.loadEditors(ctx, tx, workspaceID)
		if err != nil {
			return err
		}
		state.Editors = editors
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *SQLStore) loadLayers(ctx context.Context, tx *sql.Tx, workspaceID string) ([]Layer, error) {
	rows, err := tx.QueryContext(ctx, s.q(
		"SELECT id, name, color, visible FROM layer WHERE workspace_id = ? ORDER BY position, {seq}"),
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("query layers: %w", err)
	}
	defer rows.Close()

	layers := []Layer{}
	for rows.Next() {
		l := Layer{Highlights: []Highlight{}, Arrows: []Arrow{}, Underlines: []Underline{}}
		if err := rows.Scan(&l.ID, &l.Name, &l.Color, &l.Visible); err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

func (s *SQLStore) loadHighlights(ctx context.Context, tx *sql.Tx, workspaceID string, byID map[string]*Layer) error {
	rows, err := tx.QueryContext(ctx, s.q(
		`SELECT h.id, h.layer_id, h.editor_index, h."from", h."to", h.text, h.annotation, h.type
		 FROM highlight h
		 JOIN layer l ON h.layer_id = l.id
		 WHERE l.workspace_id = ?
		 ORDER BY h.{seq}`), workspaceID)
	if err != nil {
		return fmt.Errorf("query highlights: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h Highlight
		var layerID string
		if err := rows.Scan(&h.ID, &layerID, &h.EditorIndex, &h.From, &h.To, &h.Text, &h.Annotation, &h.Type); err != nil {
			return err
		}
		if h.Type == DefaultHighlightType {
			h.Type = ""
		}
		if l, ok := byID[layerID]; ok {
			l.Highlights = append(l.Highlights, h)
		}
	}
	return rows.Err()
}

func (s *SQLStore) loadArrows(ctx context.Context, tx *sql.Tx, workspaceID string, byID map[string]*Layer) error {
	rows, err := tx.QueryContext(ctx, s.q(
		`SELECT a.id, a.layer_id,
		        a.from_editor_index, a.from_start, a.from_end, a.from_text,
		        a.to_editor_index, a.to_start, a.to_end, a.to_text,
		        a.arrow_style
		 FROM arrow a
		 JOIN layer l ON a.layer_id = l.id
		 WHERE l.workspace_id = ?
		 ORDER BY a.{seq}`), workspaceID)
	if err != nil {
		return fmt.Errorf("query arrows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Arrow
		var layerID string
		if err := rows.Scan(
			&a.ID, &layerID,
			&a.From.EditorIndex, &a.From.From, &a.From.To, &a.From.Text,
			&a.To.EditorIndex, &a.To.From, &a.To.To, &a.To.Text,
			&a.ArrowStyle,
		); err != nil {
			return err
		}
		if l, ok := byID[layerID]; ok {
			l.Arrows = append(l.Arrows, a)
		}
	}
	return rows.Err()
}

func (s *SQLStore) loadUnderlines(ctx context.Context, tx *sql.Tx, workspaceID string, byID map[string]*Layer) error {
	rows, err := tx.QueryContext(ctx, s.q(
		`SELECT u.id, u.layer_id, u.editor_index, u."from", u."to", u.text
		 FROM underline u
		 JOIN layer l ON u.layer_id = l.id
		 WHERE l.workspace_id = ?
		 ORDER BY u.{seq}`), workspaceID)
	if err != nil {
		return fmt.Errorf("query underlines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u Underline
		var layerID string
		if err := rows.Scan(&u.ID, &layerID, &u.EditorIndex, &u.From, &u.To, &u.Text); err != nil {
			return err
		}
		if l, ok := byID[layerID]; ok {
			l.Underlines = append(l.Underlines, u)
		}
	}
	return rows.Err()
}

func (s *SQLStore) loadEditors(ctx context.Context, tx *sql.Tx, workspaceID string) ([]Editor, error) {
	rows, err := tx.QueryContext(ctx, s.q(
		"SELECT index_pos, name, visible, content_json FROM editor WHERE workspace_id = ? ORDER BY index_pos, id"),
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("query editors: %w", err)
	}
	defer rows.Close()

	editors := []Editor{}
	for rows.Next() {
		var e Editor
		var content sql.NullString
		if err := rows.Scan(&e.Index, &e.Name, &e.Visible, &content); err != nil {
			return nil, err
		}
		if content.Valid {
			e.ContentJSON = json.RawMessage(content.String)
		}
		editors = append(editors, e)
	}
	return editors, rows.Err()
}

// --- Layer operations ---

// AddLayer appends a layer after the existing ones.
func (s *SQLStore) AddLayer(ctx context.Context, workspaceID, layerID, name, color string) error {
	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		if err := s.workspaceExists(ctx, tx, workspaceID); err != nil {
			return err
		}
		var position int
		if err := tx.QueryRowContext(ctx,
			s.q("SELECT COALESCE(MAX(position), -1) + 1 FROM layer WHERE workspace_id = ?"),
			workspaceID,
		).Scan(&position); err != nil {
			return fmt.Errorf("next layer position: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			s.q("INSERT INTO layer (id, workspace_id, name, color, visible, position) VALUES (?, ?, ?, ?, ?, ?)"),
			layerID, workspaceID, name, color, true, position,
		); err != nil {
			return s.wrap(fmt.Sprintf("layer %q", layerID), err)
		}
		return nil
	})
}

// RemoveLayer deletes the layer and, through ON DELETE CASCADE, its annotations.
func (s *SQLStore) RemoveLayer(ctx context.Context, workspaceID, layerID string) error {
	return s.execOne(ctx, s.db, fmt.Sprintf("layer %q", layerID),
		"DELETE FROM layer WHERE id = ? AND workspace_id = ?", layerID, workspaceID)
}

func (s *SQLStore) UpdateLayerName(ctx context.Context, workspaceID, layerID, name string) error {
	return s.execOne(ctx, s.db, fmt.Sprintf("layer %q", layerID),
		"UPDATE layer SET name = ? WHERE id = ? AND workspace_id = ?", name, layerID, workspaceID)
}

func (s *SQLStore) UpdateLayerColor(ctx context.Context, workspaceID, layerID, color string) error {
	return s.execOne(ctx, s.db, fmt.Sprintf("layer %q", layerID),
		"UPDATE layer SET color = ? WHERE id = ? AND workspace_id = ?", color, layerID, workspaceID)
}

func (s *SQLStore) ToggleLayerVisibility(ctx context.Context, workspaceID, layerID string) error {
	return s.execOne(ctx, s.db, fmt.Sprintf("layer %q", layerID),
		"UPDATE layer SET visible = NOT visible WHERE id = ? AND workspace_id = ?", layerID, workspaceID)
}

// ReorderLayers rewrites every layer position. Unknown and repeated IDs are
// ignored; layers missing from layerIDs keep their relative order after the
// listed ones.
func (s *SQLStore) ReorderLayers(ctx context.Context, workspaceID string, layerIDs []string) error {
	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		current, err := s.layerOrder(ctx, tx, workspaceID)
		if err != nil {
			return err
		}
		for position, id := range normalizeOrder(layerIDs, current) {
			if _, err := tx.ExecContext(ctx,
				s.q("UPDATE layer SET position = ? WHERE id = ? AND workspace_id = ?"),
				position, id, workspaceID,
			); err != nil {
				return fmt.Errorf("update layer position: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) layerOrder(ctx context.Context, tx *sql.Tx, workspaceID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		s.q("SELECT id FROM layer WHERE workspace_id = ? ORDER BY position, {seq}"), workspaceID)
	if err != nil {
		return nil, fmt.Errorf("query layer order: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Annotation operations ---

// Annotation statements restrict to layers of the workspace with this clause.
const inWorkspace = "layer_id = ? AND layer_id IN (SELECT id FROM layer WHERE workspace_id = ?)"

func (s *SQLStore) AddHighlight(ctx context.Context, workspaceID, layerID string, h Highlight) error {
	if h.Type == "" {
		h.Type = DefaultHighlightType
	}
	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		if err := s.layerExists(ctx, tx, workspaceID, layerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO highlight (id, layer_id, editor_index, "from", "to", text, annotation, type)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			h.ID, layerID, h.EditorIndex, h.From, h.To, h.Text, h.Annotation, h.Type,
		); err != nil {
			return s.wrap(fmt.Sprintf("highlight %q", h.ID), err)
		}
		return nil
	})
}

func (s *SQLStore) RemoveHighlight(ctx context.Context, workspaceID, layerID, highlightID string) error {
	return s.execOne(ctx, s.db, fmt.Sprintf("highlight %q", highlightID),
		"DELETE FROM highlight WHERE id = ? AND "+inWorkspace, highlightID, layerID, workspaceID)
}

func (s *SQLStore) UpdateHighlightAnnotation(ctx context.Context, workspaceID, layerID, highlightID, annotation string) error {
	return s.execOne(ctx, s.db, fmt.Sprintf("highlight %q", highlightID),
		"UPDATE highlight SET annotation = ? WHERE id = ? AND "+inWorkspace,
		annotation, highlightID, layerID, workspaceID)
}

func (s *SQLStore) AddArrow(ctx context.Context, workspaceID, layerID string, a Arrow) error {
	if a.ArrowStyle == "" {
		a.ArrowStyle = DefaultArrowStyle
	}
	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		if err := s.layerExists(ctx, tx, workspaceID, layerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO arrow (id, layer_id,
			     from_editor_index, from_start, from_end, from_text,
			     to_editor_index, to_start, to_end, to_text, arrow_style)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			a.ID, layerID,
			a.From.EditorIndex, a.From.From, a.From.To, a.From.Text,
			a.To.EditorIndex, a.To.From, a.To.To, a.To.Text,
			a.ArrowStyle,
		); err != nil {
			return s.wrap(fmt.Sprintf("arrow %q", a.ID), err)
		}
		return nil
	})
}

func (s *SQLStore) RemoveArrow(ctx context.Context, workspaceID, layerID, arrowID string) error {
	return s.execOne(ctx, s.db, fmt.Sprintf("arrow %q", arrowID),
		"DELETE FROM arrow WHERE id = ? AND "+inWorkspace, arrowID, layerID, workspaceID)
}

func (s *SQLStore) UpdateArrowStyle(ctx context.Context, workspaceID, layerID, arrowID, style string) error {
	return s.execOne(ctx, s.db, fmt.Sprintf("arrow %q", arrowID),
		"UPDATE arrow SET arrow_style = ? WHERE id = ? AND "+inWorkspace,
		style, arrowID, layerID, workspaceID)
}

func (s *SQLStore) AddUnderline(ctx context.Context, workspaceID, layerID string, u Underline) error {
	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		if err := s.layerExists(ctx, tx, workspaceID, layerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(
			`INSERT INTO underline (id, layer_id, editor_index, "from", "to", text)
			 VALUES (?, ?, ?, ?, ?, ?)`),
			u.ID, layerID, u.EditorIndex, u.From, u.To, u.Text,
		); err != nil {
			return s.wrap(fmt.Sprintf("underline %q", u.ID), err)
		}
		return nil
	})
}

func (s *SQLStore) RemoveUnderline(ctx context.Context, workspaceID, layerID, underlineID string) error {
	return s.execOne(ctx, s.db, fmt.Sprintf("underline %q", underlineID),
		"DELETE FROM underline WHERE id = ? AND "+inWorkspace, underlineID, layerID, workspaceID)
}

// --- Section operations ---

// AddSection inserts a section at index and shifts later sections up.
func (s *SQLStore) AddSection(ctx context.Context, workspaceID string, index int, name string) error {
	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		if err := s.workspaceExists(ctx, tx, workspaceID); err != nil {
			return err
		}
		var count int
		if err := tx.QueryRowContext(ctx,
			s.q("SELECT COUNT(*) FROM editor WHERE workspace_id = ?"), workspaceID,
		).Scan(&count); err != nil {
			return fmt.Errorf("count sections: %w", err)
		}
		if index < 0 || index > count {
			return fmt.Errorf("section index %d of %d: %w", index, count, ErrOutOfRange)
		}
		if _, err := tx.ExecContext(ctx,
			s.q("UPDATE editor SET index_pos = index_pos + 1 WHERE workspace_id = ? AND index_pos >= ?"),
			workspaceID, index,
		); err != nil {
			return fmt.Errorf("shift sections: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			s.q("INSERT INTO editor (workspace_id, index_pos, name, visible) VALUES (?, ?, ?, ?)"),
			workspaceID, index, name, true,
		); err != nil {
			return fmt.Errorf("insert section: %w", err)
		}
		return nil
	})
}

// RemoveSection deletes the section at index and compacts later indices.
// Annotations keep their editorIndex.
func (s *SQLStore) RemoveSection(ctx context.Context, workspaceID string, index int) error {
	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		if err := s.execOne(ctx, tx, fmt.Sprintf("section %d", index),
			"DELETE FROM editor WHERE workspace_id = ? AND index_pos = ?", workspaceID, index,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			s.q("UPDATE editor SET index_pos = index_pos - 1 WHERE workspace_id = ? AND index_pos > ?"),
			workspaceID, index,
		); err != nil {
			return fmt.Errorf("compact sections: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) RenameSection(ctx context.Context, workspaceID string, index int, name string) error {
	return s.execOne(ctx, s.db, fmt.Sprintf("section %d", index),
		"UPDATE editor SET name = ? WHERE workspace_id = ? AND index_pos = ?", name, workspaceID, index)
}

func (s *SQLStore) ToggleSectionVisibility(ctx context.Context, workspaceID string, index int) error {
	return s.execOne(ctx, s.db, fmt.Sprintf("section %d", index),
		"UPDATE editor SET visible = NOT visible WHERE workspace_id = ? AND index_pos = ?", workspaceID, index)
}

// ReorderSections applies permutation, where permutation[newIndex] is the
// current index of the section to place there. Invalid and repeated entries
// are ignored; unlisted sections follow in their current order.
func (s *SQLStore) ReorderSections(ctx context.Context, workspaceID string, permutation []int) error {
	return s.withTx(ctx, nil, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			s.q("SELECT id FROM editor WHERE workspace_id = ? ORDER BY index_pos, id"), workspaceID)
		if err != nil {
			return fmt.Errorf("query sections: %w", err)
		}
		var current []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			current = append(current, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		requested := make([]int64, 0, len(permutation))
		for _, old := range permutation {
			if old >= 0 && old < len(current) {
				requested = append(requested, current[old])
			}
		}
		for newIndex, id := range normalizeOrder(requested, current) {
			if _, err := tx.ExecContext(ctx,
				s.q("UPDATE editor SET index_pos = ? WHERE id = ?"), newIndex, id,
			); err != nil {
				return fmt.Errorf("update section index: %w", err)
			}
		}
		return nil
	})
}

// UpdateSectionContent stores content verbatim; nil clears it.
func (s *SQLStore) UpdateSectionContent(ctx context.Context, workspaceID string, index int, content json.RawMessage) error {
	value := sql.NullString{String: string(content), Valid: content != nil}
	return s.execOne(ctx, s.db, fmt.Sprintf("section %d", index),
		"UPDATE editor SET content_json = ? WHERE workspace_id = ? AND index_pos = ?", value, workspaceID, index)
}

// normalizeOrder returns current rearranged so the known entries of
// requested come first, in requested order, followed by the rest.
func normalizeOrder[T comparable](requested, current []T) []T {
	known := make(map[T]bool, len(current))
	for _, c := range current {
		known[c] = true
	}
	out := make([]T, 0, len(current))
	placed := make(map[T]bool, len(current))
	for _, r := range requested {
		if known[r] && !placed[r] {
			placed[r] = true
			out = append(out, r)
		}
	}
	for _, c := range current {
		if !placed[c] {
			out = append(out, c)
		}
	}
	return out
}
