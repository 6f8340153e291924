package actions

import (
	"context"
	"encoding/json"

	"github.com/referencer/refsync/internal/store"
	"github.com/referencer/refsync/internal/validate"
)

// Wire names of the supported actions
const (
	TypeAddLayer                  = "addLayer"
	TypeRemoveLayer               = "removeLayer"
	TypeUpdateLayerName           = "updateLayerName"
	TypeUpdateLayerColor          = "updateLayerColor"
	TypeToggleLayerVisibility     = "toggleLayerVisibility"
	TypeReorderLayers             = "reorderLayers"
	TypeAddHighlight              = "addHighlight"
	TypeRemoveHighlight           = "removeHighlight"
	TypeUpdateHighlightAnnotation = "updateHighlightAnnotation"
	TypeAddArrow                  = "addArrow"
	TypeRemoveArrow               = "removeArrow"
	TypeUpdateArrowStyle          = "updateArrowStyle"
	TypeAddUnderline              = "addUnderline"
	TypeRemoveUnderline           = "removeUnderline"
	TypeAddEditor                 = "addEditor"
	TypeRemoveEditor              = "removeEditor"
	TypeUpdateSectionName         = "updateSectionName"
	TypeToggleSectionVisibility   = "toggleSectionVisibility"
	TypeReorderEditors            = "reorderEditors"
	TypeUpdateEditorContent       = "updateEditorContent"
)

// --- Layers ---

type AddLayer struct {
	ID    string
	Name  string
	Color string
}

func decodeAddLayer(r *validate.Reader) Action {
	return AddLayer{ID: r.String("id"), Name: r.String("name"), Color: r.String("color")}
}

func (AddLayer) Type() string { return TypeAddLayer }

func (a AddLayer) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.AddLayer(ctx, workspaceID, a.ID, a.Name, a.Color)
}

type RemoveLayer struct {
	ID string
}

func decodeRemoveLayer(r *validate.Reader) Action {
	return RemoveLayer{ID: r.String("id")}
}

func (RemoveLayer) Type() string { return TypeRemoveLayer }

func (a RemoveLayer) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.RemoveLayer(ctx, workspaceID, a.ID)
}

type UpdateLayerName struct {
	ID   string
	Name string
}

func decodeUpdateLayerName(r *validate.Reader) Action {
	return UpdateLayerName{ID: r.String("id"), Name: r.String("name")}
}

func (UpdateLayerName) Type() string { return TypeUpdateLayerName }

func (a UpdateLayerName) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.UpdateLayerName(ctx, workspaceID, a.ID, a.Name)
}

type UpdateLayerColor struct {
	ID    string
	Color string
}

func decodeUpdateLayerColor(r *validate.Reader) Action {
	return UpdateLayerColor{ID: r.String("id"), Color: r.String("color")}
}

func (UpdateLayerColor) Type() string { return TypeUpdateLayerColor }

func (a UpdateLayerColor) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.UpdateLayerColor(ctx, workspaceID, a.ID, a.Color)
}

type ToggleLayerVisibility struct {
	ID string
}

func decodeToggleLayerVisibility(r *validate.Reader) Action {
	return ToggleLayerVisibility{ID: r.String("id")}
}

func (ToggleLayerVisibility) Type() string { return TypeToggleLayerVisibility }

func (a ToggleLayerVisibility) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.ToggleLayerVisibility(ctx, workspaceID, a.ID)
}

type ReorderLayers struct {
	LayerIDs []string
}

func decodeReorderLayers(r *validate.Reader) Action {
	return ReorderLayers{LayerIDs: r.Strings("layerIds")}
}

func (ReorderLayers) Type() string { return TypeReorderLayers }

func (a ReorderLayers) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.ReorderLayers(ctx, workspaceID, a.LayerIDs)
}

// --- Annotations ---

type AddHighlight struct {
	LayerID   string
	Highlight store.Highlight
}

func decodeAddHighlight(r *validate.Reader) Action {
	a := AddHighlight{LayerID: r.String("layerId")}
	h := r.Map("highlight")
	a.Highlight = store.Highlight{
		ID:          h.String("id"),
		EditorIndex: h.Int("editorIndex"),
		From:        h.Int("from"),
		To:          h.Int("to"),
		Text:        h.OptionalString("text", ""),
		Annotation:  h.OptionalString("annotation", ""),
		Type:        h.OptionalString("type", ""),
	}
	return a
}

func (AddHighlight) Type() string { return TypeAddHighlight }

func (a AddHighlight) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.AddHighlight(ctx, workspaceID, a.LayerID, a.Highlight)
}

type RemoveHighlight struct {
	LayerID     string
	HighlightID string
}

func decodeRemoveHighlight(r *validate.Reader) Action {
	return RemoveHighlight{LayerID: r.String("layerId"), HighlightID: r.String("highlightId")}
}

func (RemoveHighlight) Type() string { return TypeRemoveHighlight }

func (a RemoveHighlight) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.RemoveHighlight(ctx, workspaceID, a.LayerID, a.HighlightID)
}

type UpdateHighlightAnnotation struct {
	LayerID     string
	HighlightID string
	Annotation  string
}

func decodeUpdateHighlightAnnotation(r *validate.Reader) Action {
	return UpdateHighlightAnnotation{
		LayerID:     r.String("layerId"),
		HighlightID: r.String("highlightId"),
		Annotation:  r.String("annotation"),
	}
}

func (UpdateHighlightAnnotation) Type() string { return TypeUpdateHighlightAnnotation }

func (a UpdateHighlightAnnotation) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.UpdateHighlightAnnotation(ctx, workspaceID, a.LayerID, a.HighlightID, a.Annotation)
}

type AddArrow struct {
	LayerID string
	Arrow   store.Arrow
}

func readEndpoint(r *validate.Reader) store.ArrowEndpoint {
	return store.ArrowEndpoint{
		EditorIndex: r.Int("editorIndex"),
		From:        r.Int("from"),
		To:          r.Int("to"),
		Text:        r.OptionalString("text", ""),
	}
}

func decodeAddArrow(r *validate.Reader) Action {
	a := AddArrow{LayerID: r.String("layerId")}
	arrow := r.Map("arrow")
	a.Arrow.ID = arrow.String("id")
	a.Arrow.From = readEndpoint(arrow.Map("from"))
	a.Arrow.To = readEndpoint(arrow.Map("to"))
	a.Arrow.ArrowStyle = arrow.OptionalString("arrowStyle", store.DefaultArrowStyle)
	return a
}

func (AddArrow) Type() string { return TypeAddArrow }

func (a AddArrow) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.AddArrow(ctx, workspaceID, a.LayerID, a.Arrow)
}

type RemoveArrow struct {
	LayerID string
	ArrowID string
}

func decodeRemoveArrow(r *validate.Reader) Action {
	return RemoveArrow{LayerID: r.String("layerId"), ArrowID: r.String("arrowId")}
}

func (RemoveArrow) Type() string { return TypeRemoveArrow }

func (a RemoveArrow) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.RemoveArrow(ctx, workspaceID, a.LayerID, a.ArrowID)
}

type UpdateArrowStyle struct {
	LayerID    string
	ArrowID    string
	ArrowStyle string
}

func decodeUpdateArrowStyle(r *validate.Reader) Action {
	return UpdateArrowStyle{
		LayerID:    r.String("layerId"),
		ArrowID:    r.String("arrowId"),
		ArrowStyle: r.String("arrowStyle"),
	}
}

func (UpdateArrowStyle) Type() string { return TypeUpdateArrowStyle }

func (a UpdateArrowStyle) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.UpdateArrowStyle(ctx, workspaceID, a.LayerID, a.ArrowID, a.ArrowStyle)
}

type AddUnderline struct {
	LayerID   string
	Underline store.Underline
}

func decodeAddUnderline(r *validate.Reader) Action {
	a := AddUnderline{LayerID: r.String("layerId")}
	u := r.Map("underline")
	a.Underline = store.Underline{
		ID:          u.String("id"),
		EditorIndex: u.Int("editorIndex"),
		From:        u.Int("from"),
		To:          u.Int("to"),
		Text:        u.OptionalString("text", ""),
	}
	return a
}

func (AddUnderline) Type() string { return TypeAddUnderline }

func (a AddUnderline) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.AddUnderline(ctx, workspaceID, a.LayerID, a.Underline)
}

type RemoveUnderline struct {
	LayerID     string
	UnderlineID string
}

func decodeRemoveUnderline(r *validate.Reader) Action {
	return RemoveUnderline{LayerID: r.String("layerId"), UnderlineID: r.String("underlineId")}
}

func (RemoveUnderline) Type() string { return TypeRemoveUnderline }

func (a RemoveUnderline) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.RemoveUnderline(ctx, workspaceID, a.LayerID, a.UnderlineID)
}

// --- Sections ---

type AddEditor struct {
	Index int
	Name  string
}

func decodeAddEditor(r *validate.Reader) Action {
	return AddEditor{Index: r.Int("index"), Name: r.String("name")}
}

func (AddEditor) Type() string { return TypeAddEditor }

func (a AddEditor) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.AddSection(ctx, workspaceID, a.Index, a.Name)
}

type RemoveEditor struct {
	Index int
}

func decodeRemoveEditor(r *validate.Reader) Action {
	return RemoveEditor{Index: r.Int("index")}
}

func (RemoveEditor) Type() string { return TypeRemoveEditor }

func (a RemoveEditor) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.RemoveSection(ctx, workspaceID, a.Index)
}

type UpdateSectionName struct {
	Index int
	Name  string
}

func decodeUpdateSectionName(r *validate.Reader) Action {
	return UpdateSectionName{Index: r.Int("index"), Name: r.String("name")}
}

func (UpdateSectionName) Type() string { return TypeUpdateSectionName }

func (a UpdateSectionName) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.RenameSection(ctx, workspaceID, a.Index, a.Name)
}

type ToggleSectionVisibility struct {
	Index int
}

func decodeToggleSectionVisibility(r *validate.Reader) Action {
	return ToggleSectionVisibility{Index: r.Int("index")}
}

func (ToggleSectionVisibility) Type() string { return TypeToggleSectionVisibility }

func (a ToggleSectionVisibility) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.ToggleSectionVisibility(ctx, workspaceID, a.Index)
}

type ReorderEditors struct {
	// Permutation[newIndex] is the current index of the section placed there.
	Permutation []int
}

func decodeReorderEditors(r *validate.Reader) Action {
	return ReorderEditors{Permutation: r.Ints("permutation")}
}

func (ReorderEditors) Type() string { return TypeReorderEditors }

func (a ReorderEditors) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.ReorderSections(ctx, workspaceID, a.Permutation)
}

type UpdateEditorContent struct {
	EditorIndex int
	Content     json.RawMessage
}

func decodeUpdateEditorContent(r *validate.Reader) Action {
	return UpdateEditorContent{EditorIndex: r.Int("editorIndex"), Content: r.JSON("contentJson")}
}

func (UpdateEditorContent) Type() string { return TypeUpdateEditorContent }

func (a UpdateEditorContent) Apply(ctx context.Context, s store.Store, workspaceID string) error {
	return s.UpdateSectionContent(ctx, workspaceID, a.EditorIndex, a.Content)
}
