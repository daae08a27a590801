package capture

import (
	"math"
	"strings"
)

// Element is a DOM-like node as seen by the click and submit handlers
type Element interface {
	TagName() string
	Attribute(name string) (string, bool)
	ID() string
	ClassName() string
	Text() string
	Bounds() Rect
	Parent() Element
}

// Rect is a bounding box in viewport coordinates
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Midpoint returns the box centre rounded to the nearest integer
func (r Rect) Midpoint() (int, int) {
	return int(math.Round(r.Left + r.Width/2)), int(math.Round(r.Top + r.Height/2))
}

// Node is a JSON-decodable Element. The target of a click is the innermost
// node; Parent links lead up towards the document root.
type Node struct {
	Tag     string            `json:"tag"`
	NodeID  string            `json:"id,omitempty"`
	Class   string            `json:"class,omitempty"`
	Content string            `json:"text,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Rect    Rect              `json:"rect"`
	Up      *Node             `json:"parent,omitempty"`
}

func (n *Node) TagName() string   { return n.Tag }
func (n *Node) ID() string        { return n.NodeID }
func (n *Node) ClassName() string { return n.Class }
func (n *Node) Text() string      { return n.Content }
func (n *Node) Bounds() Rect      { return n.Rect }

func (n *Node) Attribute(name string) (string, bool) {
	v, ok := n.Attrs[name]
	return v, ok
}

func (n *Node) Parent() Element {
	if n.Up == nil {
		return nil
	}
	return n.Up
}

// Element limits
const (
	MaxTextLength  = 100
	MaxClassLength = 200
)

var allowedTags = map[string]bool{
	"button":   true,
	"a":        true,
	"input":    true,
	"select":   true,
	"textarea": true,
}

// TrackAttribute marks an arbitrary element as interactive
const TrackAttribute = "data-track"

func isInteractive(el Element) bool {
	if allowedTags[strings.ToLower(el.TagName())] {
		return true
	}
	if role, ok := el.Attribute("role"); ok && strings.EqualFold(role, "button") {
		return true
	}
	_, ok := el.Attribute(TrackAttribute)
	return ok
}

// ResolveTarget returns the element a click on target is attributed to:
// target itself when its tag is allow-listed, otherwise the nearest
// interactive ancestor. It returns nil when there is none.
func ResolveTarget(target Element) Element {
	if target == nil {
		return nil
	}
	if allowedTags[strings.ToLower(target.TagName())] {
		return target
	}
	for el := target; el != nil; el = el.Parent() {
		if isInteractive(el) {
			return el
		}
	}
	return nil
}
