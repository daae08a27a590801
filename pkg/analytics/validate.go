package analytics

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/platinummonkey/beacon/pkg/session"
)

// ErrInvalidEvent is wrapped by every validation failure
var ErrInvalidEvent = errors.New("invalid event")

// Column limits shared with the schema
const (
	MaxElementText  = 100
	MaxElementClass = 200
	MaxPagePath     = 2048
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, fmt.Sprintf(format, args...))
}

func validateCommon(sessionID, pagePath string) error {
	if !session.Valid(sessionID) {
		return invalid("session_id must be 1-%d characters", session.MaxIDLength)
	}
	if pagePath == "" {
		return invalid("page_path is required")
	}
	if len(pagePath) > MaxPagePath {
		return invalid("page_path exceeds %d bytes", MaxPagePath)
	}
	return nil
}

// Validate checks a visit before it is written
func (v VisitRecord) Validate() error {
	return validateCommon(v.SessionID, v.PagePath)
}

// Validate checks an interaction before it is written. The optional field
// group that does not belong to EventType must be empty.
func (e InteractionEvent) Validate() error {
	if err := validateCommon(e.SessionID, e.PagePath); err != nil {
		return err
	}
	if e.ViewportWidth < 0 || e.ViewportHeight < 0 {
		return invalid("viewport dimensions must not be negative")
	}

	hasElement := e.ElementTag != nil || e.ElementText != nil || e.ElementID != nil || e.ElementClass != nil
	hasPosition := e.XPosition != nil || e.YPosition != nil

	switch e.EventType {
	case EventClick:
		if e.ElementTag == nil {
			return invalid("click requires element_tag")
		}
		if e.XPosition == nil || e.YPosition == nil {
			return invalid("click requires x_position and y_position")
		}
		if e.ScrollDepth != nil {
			return invalid("click must not carry scroll_depth")
		}
	case EventFormSubmit:
		if e.ElementTag == nil {
			return invalid("form_submit requires element_tag")
		}
		if hasPosition || e.ScrollDepth != nil {
			return invalid("form_submit must not carry positions or scroll_depth")
		}
	case EventScroll:
		if e.ScrollDepth == nil || !IsScrollThreshold(*e.ScrollDepth) {
			return invalid("scroll requires scroll_depth of 25, 50, 75 or 100")
		}
		if hasElement || hasPosition {
			return invalid("scroll must not carry element fields or positions")
		}
	default:
		return invalid("unknown event_type %q", e.EventType)
	}

	if utf8.RuneCountInString(deref(e.ElementText)) > MaxElementText {
		return invalid("element_text exceeds %d characters", MaxElementText)
	}
	if utf8.RuneCountInString(deref(e.ElementClass)) > MaxElementClass {
		return invalid("element_class exceeds %d characters", MaxElementClass)
	}
	return nil
}
