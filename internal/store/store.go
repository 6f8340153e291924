// Package store persists workspace state: layers with their highlights,
// arrows and underlines, plus the ordered sections ("editors") of a
// workspace.
//
// One SQL implementation serves both backends; SQLite (mattn/go-sqlite3) is
// the embedded default and PostgreSQL (pgx) the server option. Callers are
// expected to serialize writes per workspace.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotFound is returned when a referenced workspace, layer, annotation
	// or section does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a client-generated ID is reused.
	ErrAlreadyExists = errors.New("already exists")
	// ErrOutOfRange is returned when a section insert index is outside 0..count.
	ErrOutOfRange = errors.New("index out of range")
)

// DefaultSectionName names the section created with a new workspace.
const DefaultSectionName = "Passage 1"

// DefaultArrowStyle is applied when an arrow is added without a style.
const DefaultArrowStyle = "solid"

// DefaultHighlightType is the stored highlight type; it is omitted on the wire.
const DefaultHighlightType = "highlight"

// WorkspaceState is the full snapshot sent to a joining client.
type WorkspaceState struct {
	WorkspaceID string   `json:"workspaceId"`
	Layers      []Layer  `json:"layers"`
	Editors     []Editor `json:"editors"`
}

// Layer groups annotations under one color and visibility toggle.
type Layer struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Color      string      `json:"color"`
	Visible    bool        `json:"visible"`
	Highlights []Highlight `json:"highlights"`
	Arrows     []Arrow     `json:"arrows"`
	Underlines []Underline `json:"underlines"`
}

// Highlight marks a character range of one section. EditorIndex is a plain
// index, not a reference; it is never remapped when sections move.
type Highlight struct {
	ID          string `json:"id"`
	EditorIndex int    `json:"editorIndex"`
	From        int    `json:"from"`
	To          int    `json:"to"`
	Text        string `json:"text"`
	Annotation  string `json:"annotation"`
	Type        string `json:"type,omitempty"`
}

// ArrowEndpoint is one end of an arrow.
type ArrowEndpoint struct {
	EditorIndex int    `json:"editorIndex"`
	From        int    `json:"from"`
	To          int    `json:"to"`
	Text        string `json:"text"`
}

// Arrow connects two ranges, possibly in different sections.
type Arrow struct {
	ID         string        `json:"id"`
	From       ArrowEndpoint `json:"from"`
	To         ArrowEndpoint `json:"to"`
	ArrowStyle string        `json:"arrowStyle,omitempty"`
}

// Underline marks a character range of one section.
type Underline struct {
	ID          string `json:"id"`
	EditorIndex int    `json:"editorIndex"`
	From        int    `json:"from"`
	To          int    `json:"to"`
	Text        string `json:"text"`
}

// Editor is one section of a workspace. ContentJSON is an opaque document,
// null until the first content update.
type Editor struct {
	Index       int             `json:"index"`
	Name        string          `json:"name"`
	Visible     bool            `json:"visible"`
	ContentJSON json.RawMessage `json:"contentJson"`
}

// Store is the workspace state backend.
type Store interface {
	EnsureWorkspace(ctx context.Context, workspaceID string) error
	GetState(ctx context.Context, workspaceID string) (*WorkspaceState, error)

	AddLayer(ctx context.Context, workspaceID, layerID, name, color string) error
	RemoveLayer(ctx context.Context, workspaceID, layerID string) error
	UpdateLayerName(ctx context.Context, workspaceID, layerID, name string) error
	UpdateLayerColor(ctx context.Context, workspaceID, layerID, color string) error
	ToggleLayerVisibility(ctx context.Context, workspaceID, layerID string) error
	ReorderLayers(ctx context.Context, workspaceID string, layerIDs []string) error

	AddHighlight(ctx context.Context, workspaceID, layerID string, h Highlight) error
	RemoveHighlight(ctx context.Context, workspaceID, layerID, highlightID string) error
	UpdateHighlightAnnotation(ctx context.Context, workspaceID, layerID, highlightID, annotation string) error

	AddArrow(ctx context.Context, workspaceID, layerID string, a Arrow) error
	RemoveArrow(ctx context.Context, workspaceID, layerID, arrowID string) error
	UpdateArrowStyle(ctx context.Context, workspaceID, layerID, arrowID, style string) error

	AddUnderline(ctx context.Context, workspaceID, layerID string, u Underline) error
	RemoveUnderline(ctx context.Context, workspaceID, layerID, underlineID string) error

	AddSection(ctx context.Context, workspaceID string, index int, name string) error
	RemoveSection(ctx context.Context, workspaceID string, index int) error
	RenameSection(ctx context.Context, workspaceID string, index int, name string) error
	ToggleSectionVisibility(ctx context.Context, workspaceID string, index int) error
	ReorderSections(ctx context.Context, workspaceID string, permutation []int) error
	UpdateSectionContent(ctx context.Context, workspaceID string, index int, content json.RawMessage) error

	Ping(ctx context.Context) error
	Close() error
}
