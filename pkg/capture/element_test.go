package capture

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveTarget_SpanInsideButton(t *testing.T) {
	button := &Node{Tag: "BUTTON", NodeID: "buy"}
	span := &Node{Tag: "span", Content: "Buy", Up: button}

	got := ResolveTarget(span)
	require.NotNil(t, got)
	assert.Equal(t, "BUTTON", got.TagName())
	assert.Equal(t, "buy", got.ID())
}

func TestResolveTarget(t *testing.T) {
	body := &Node{Tag: "body"}
	card := &Node{Tag: "div", Attrs: map[string]string{"role": "Button"}, Up: body}
	tracked := &Node{Tag: "li", Attrs: map[string]string{TrackAttribute: ""}, Up: body}
	link := &Node{Tag: "a", Up: &Node{Tag: "button", Up: body}}

	tests := []struct {
		name   string
		target Element
		want   Element
	}{
		{"allow-listed target used directly", link, link},
		{"role button ancestor", &Node{Tag: "img", Up: card}, card},
		{"data-track ancestor", &Node{Tag: "span", Up: &Node{Tag: "strong", Up: tracked}}, tracked},
		{"role button on target", card, card},
		{"no interactive element", &Node{Tag: "p", Up: body}, nil},
		{"nil target", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveTarget(tt.target)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.Same(t, tt.want, got)
		})
	}
}

func TestNode_JSON(t *testing.T) {
	raw := `{"tag":"span","text":"Sell","rect":{"left":10,"top":20,"width":31,"height":9},
		"parent":{"tag":"button","id":"sell","class":"btn","attrs":{"type":"submit"}}}`

	var n Node
	require.NoError(t, json.Unmarshal([]byte(raw), &n))

	assert.Equal(t, "span", n.TagName())
	parent := n.Parent()
	require.NotNil(t, parent)
	assert.Equal(t, "sell", parent.ID())
	v, ok := parent.Attribute("type")
	assert.True(t, ok)
	assert.Equal(t, "submit", v)
	assert.Nil(t, parent.Parent())
}

func TestRect_Midpoint(t *testing.T) {
	x, y := Rect{Left: 10, Top: 20, Width: 31, Height: 9}.Midpoint()
	assert.Equal(t, 26, x)
	assert.Equal(t, 25, y)
}

func TestClickEvent_TruncatesTextAndClass(t *testing.T) {
	event, ok := ClickEvent(&Node{
		Tag:     "BUTTON",
		Content: "  " + strings.Repeat("ü", 150) + "\n",
		Class:   strings.Repeat("c", 250),
	})
	require.True(t, ok)
	assert.Equal(t, "button", *event.ElementTag)
	assert.Equal(t, strings.Repeat("ü", MaxTextLength), *event.ElementText)
	assert.Len(t, *event.ElementClass, MaxClassLength)
}
