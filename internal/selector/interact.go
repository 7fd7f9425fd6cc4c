package selector

import (
	"context"
	"fmt"

	"scrapcore/internal/correlation"
	"scrapcore/internal/eventbus"
)

// Action is one of the interaction helpers Interact dispatches to (spec
// §4.3 "Interaction helpers").
type Action string

const (
	ActionClick          Action = "click"
	ActionFill           Action = "fill"
	ActionPress          Action = "press"
	ActionHover          Action = "hover"
	ActionScrollIntoView Action = "scroll_into_view"
)

// Interact drives action against a previously resolved result. Before
// acting it re-checks is_visible and the tab's dom_generation_counter; if
// either invalidates the handle it re-resolves name once against tab and
// acts on the fresh result instead. payload carries the fill text or the
// key name for press, and is ignored by the other actions.
func (e *Engine) Interact(ctx context.Context, name string, result Result, action Action, payload string, tab TabContext, facade Driver) (Result, error) {
	correlationID := result.CorrelationID
	if correlationID == "" {
		correlationID = correlation.New()
	}

	if !result.Matched() {
		err := &NoHandleError{Name: name}
		e.publishInteraction(correlationID, name, action, false, err)
		return result, err
	}

	current := result
	if !e.handleStillValid(ctx, facade, current, tab) {
		retried, err := e.Resolve(ctx, name, tab, facade, correlationID)
		if err != nil {
			wrapped := fmt.Errorf("interact %q: retry resolution: %w", name, err)
			e.publishInteraction(correlationID, name, action, false, wrapped)
			return retried, wrapped
		}
		if !retried.Matched() || !e.handleStillValid(ctx, facade, retried, tab) {
			err := &ContextInvalidatedError{ContextID: tab.ID}
			e.publishInteraction(correlationID, name, action, false, err)
			return retried, err
		}
		current = retried
	}

	var err error
	switch action {
	case ActionClick:
		err = facade.Click(ctx, current.Handle)
	case ActionFill:
		err = facade.Fill(ctx, current.Handle, payload)
	case ActionPress:
		err = facade.Press(ctx, current.Handle, payload)
	case ActionHover:
		err = facade.Hover(ctx, current.Handle)
	case ActionScrollIntoView:
		err = facade.ScrollIntoView(ctx, current.Handle)
	default:
		err = &UnsupportedActionError{Action: string(action)}
	}

	e.publishInteraction(correlationID, name, action, err == nil, err)
	if err != nil {
		return current, err
	}
	return current, nil
}

// handleStillValid re-checks is_visible and the tab's
// dom_generation_counter against the generation the handle was resolved
// at (spec §4.3: "re-check is_visible and dom_generation_counter").
func (e *Engine) handleStillValid(ctx context.Context, facade Driver, current Result, tab TabContext) bool {
	if tab.generation() != current.DOMGeneration {
		return false
	}
	visible, err := facade.IsVisible(ctx, current.Handle)
	if err != nil || !visible {
		return false
	}
	return true
}

func (e *Engine) publishInteraction(correlationID, name string, action Action, ok bool, err error) {
	eventType := eventbus.EventSelectorInteractionCompleted
	payload := map[string]interface{}{
		"semantic_name": name,
		"action":        action,
	}
	if !ok {
		eventType = eventbus.EventSelectorInteractionFailed
		if err != nil {
			payload["error"] = err.Error()
		}
	}
	e.publish(correlationID, eventType, payload)
}
