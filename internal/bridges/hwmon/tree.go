package hwmon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SensorTreeNode is one node of the hierarchical document served by the
// monitoring endpoint (LibreHardwareMonitor data.json layout).
//
// A node with children is a group. A node without children and with a
// non-empty Value is a sensor leaf. Anything else carries no reading.
type SensorTreeNode struct {
	ID       int               `json:"id"`
	Text     string            `json:"Text"`
	Value    Reading           `json:"Value,omitempty"`
	Min      Reading           `json:"Min,omitempty"`
	Max      Reading           `json:"Max,omitempty"`
	SensorID string            `json:"SensorId,omitempty"`
	Type     string            `json:"Type,omitempty"`
	ImageURL string            `json:"ImageURL,omitempty"`
	Children []*SensorTreeNode `json:"Children,omitempty"`

	// malformed holds the decode failure of a node whose fields had the
	// wrong shape. Such a node is skipped, with its subtree, by ParseTree.
	malformed string
}

// UnmarshalJSON decodes the node's own fields and then each child on its
// own, so a wrong-shaped descendant only marks that descendant malformed.
// Syntax errors are caught by json.Unmarshal before it gets here.
func (n *SensorTreeNode) UnmarshalJSON(data []byte) error {
	type Alias SensorTreeNode
	shell := struct {
		*Alias
		Children []json.RawMessage `json:"Children,omitempty"`
	}{Alias: (*Alias)(n)}

	if err := json.Unmarshal(data, &shell); err != nil {
		n.malformed = err.Error()
		n.Children = nil
		return nil
	}

	n.Children = make([]*SensorTreeNode, 0, len(shell.Children))
	for _, raw := range shell.Children {
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			n.Children = append(n.Children, nil)
			continue
		}
		child := &SensorTreeNode{}
		if err := json.Unmarshal(raw, child); err != nil {
			child.malformed = err.Error()
		}
		n.Children = append(n.Children, child)
	}
	return nil
}

// Malformed reports whether the node could not be decoded, and why.
func (n *SensorTreeNode) Malformed() (string, bool) {
	return n.malformed, n.malformed != ""
}

// IsGroup reports whether the node has children.
func (n *SensorTreeNode) IsGroup() bool {
	return len(n.Children) > 0
}

// HasValue reports whether the node carries a non-empty reading.
func (n *SensorTreeNode) HasValue() bool {
	return strings.TrimSpace(string(n.Value)) != ""
}

// IsLeaf reports whether the node is a sensor reading.
func (n *SensorTreeNode) IsLeaf() bool {
	return !n.IsGroup() && n.HasValue()
}

// Reading is a raw reading string such as "45.0 °C". It decodes from a
// JSON string or a bare JSON number.
type Reading string

// UnmarshalJSON implements json.Unmarshaler.
func (r *Reading) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Reading(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("reading must be a string or number: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("reading %q: %w", n, err)
	}
	*r = Reading(n.String())
	return nil
}

// DecodeTree decodes a sensor tree document. It fails with ErrParse when
// the document is not a JSON object or the root's own fields have the
// wrong shape. Wrong-shaped descendants are kept as malformed nodes and
// reported by ParseTree.
func DecodeTree(data []byte) (*SensorTreeNode, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrParse)
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: document is not a JSON object", ErrParse)
	}

	var root SensorTreeNode
	if err := json.Unmarshal(trimmed, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if reason, bad := root.Malformed(); bad {
		return nil, fmt.Errorf("%w: %s", ErrParse, reason)
	}
	return &root, nil
}
