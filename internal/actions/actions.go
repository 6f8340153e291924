// Package actions decodes client mutation messages into typed actions and
// applies them to a store.
//
// Each wire type maps to exactly one action struct. Decoding reads every
// field through a validate.Reader, so an action that decodes cleanly can be
// applied without further checks; a payload that fails never reaches the
// store.
package actions

import (
	"context"
	"errors"
	"sort"

	"github.com/referencer/refsync/internal/store"
	"github.com/referencer/refsync/internal/validate"
)

// ErrUnknownAction matches every *UnknownActionError.
var ErrUnknownAction = errors.New("unknown action")

// UnknownActionError reports an action type with no decoder.
type UnknownActionError struct {
	Type string
}

func (e *UnknownActionError) Error() string {
	return "Unknown action: " + e.Type
}

func (e *UnknownActionError) Is(target error) bool {
	return target == ErrUnknownAction
}

// Action is one decoded, validated mutation.
type Action interface {
	// Type returns the wire name of the action.
	Type() string
	// Apply performs the mutation on workspaceID.
	Apply(ctx context.Context, s store.Store, workspaceID string) error
}

type decoder func(r *validate.Reader) Action

var decoders = map[string]decoder{
	TypeAddLayer:                  decodeAddLayer,
	TypeRemoveLayer:               decodeRemoveLayer,
	TypeUpdateLayerName:           decodeUpdateLayerName,
	TypeUpdateLayerColor:          decodeUpdateLayerColor,
	TypeToggleLayerVisibility:     decodeToggleLayerVisibility,
	TypeReorderLayers:             decodeReorderLayers,
	TypeAddHighlight:              decodeAddHighlight,
	TypeRemoveHighlight:           decodeRemoveHighlight,
	TypeUpdateHighlightAnnotation: decodeUpdateHighlightAnnotation,
	TypeAddArrow:                  decodeAddArrow,
	TypeRemoveArrow:               decodeRemoveArrow,
	TypeUpdateArrowStyle:          decodeUpdateArrowStyle,
	TypeAddUnderline:              decodeAddUnderline,
	TypeRemoveUnderline:           decodeRemoveUnderline,
	TypeAddEditor:                 decodeAddEditor,
	TypeRemoveEditor:              decodeRemoveEditor,
	TypeUpdateSectionName:         decodeUpdateSectionName,
	TypeToggleSectionVisibility:   decodeToggleSectionVisibility,
	TypeReorderEditors:            decodeReorderEditors,
	TypeUpdateEditorContent:       decodeUpdateEditorContent,
}

// Types returns the supported action types, sorted.
func Types() []string {
	types := make([]string, 0, len(decoders))
	for t := range decoders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Decode builds the action for actionType from payload. It fails with an
// *UnknownActionError for unsupported types and with the first
// *validate.FieldError of an invalid payload.
func Decode(actionType string, payload map[string]any) (Action, error) {
	dec, ok := decoders[actionType]
	if !ok {
		return nil, &UnknownActionError{Type: actionType}
	}
	r := validate.NewReader(payload)
	action := dec(r)
	if err := r.Err(); err != nil {
		return nil, err
	}
	return action, nil
}

// Dispatch decodes and applies one action. Store errors are returned
// unchanged.
func Dispatch(ctx context.Context, s store.Store, workspaceID, actionType string, payload map[string]any) error {
	action, err := Decode(actionType, payload)
	if err != nil {
		return err
	}
	return action.Apply(ctx, s, workspaceID)
}
