package hwmon

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// DefaultDeviceDepth is the number of leading path labels that identify a
// device: machine, then hardware component.
const DefaultDeviceDepth = 2

// maxSlugLength bounds generated device IDs.
const maxSlugLength = 64

// ParseResult is the outcome of a tree traversal.
type ParseResult struct {
	// Properties are the sensor leaves in depth-first order.
	Properties []PropertyDescription

	// Diagnostics describe nodes that were skipped as malformed.
	Diagnostics []string
}

// parseAccumulator is threaded explicitly through the traversal.
type parseAccumulator struct {
	props []PropertyDescription
	diags []string
}

// ParseTree walks the tree depth-first and returns one property
// description per sensor leaf, each carrying the label path from the
// root to the leaf.
//
// The root node is the document wrapper and contributes no path segment.
// Leaves without a value contribute nothing. Groups without a label and
// nodes that failed to decode are skipped along with their subtree and
// reported as a diagnostic.
func ParseTree(root *SensorTreeNode) ParseResult {
	var acc parseAccumulator
	switch {
	case root == nil:
	case root.IsGroup():
		for _, child := range root.Children {
			acc = walkNode(child, nil, acc)
		}
	case root.HasValue():
		acc = walkNode(root, nil, acc)
	}
	return ParseResult{Properties: acc.props, Diagnostics: acc.diags}
}

func walkNode(node *SensorTreeNode, path []string, acc parseAccumulator) parseAccumulator {
	if node == nil {
		acc.diags = append(acc.diags, fmt.Sprintf("null node under %q skipped", strings.Join(path, "/")))
		return acc
	}
	if reason, bad := node.Malformed(); bad {
		acc.diags = append(acc.diags,
			fmt.Sprintf("malformed node under %q skipped: %s", strings.Join(path, "/"), reason))
		return acc
	}

	label := strings.TrimSpace(node.Text)

	if node.IsGroup() {
		if label == "" {
			acc.diags = append(acc.diags,
				fmt.Sprintf("group node %d under %q has no label, skipped %d children",
					node.ID, strings.Join(path, "/"), len(node.Children)))
			return acc
		}
		// Full slice expression forces a copy so siblings never share
		// a backing array.
		childPath := append(path[:len(path):len(path)], label)
		for _, child := range node.Children {
			acc = walkNode(child, childPath, acc)
		}
		return acc
	}

	if !node.HasValue() {
		return acc
	}
	if label == "" {
		label = fmt.Sprintf("Sensor %d", node.ID)
	}
	acc.props = append(acc.props, leafProperty(node, path, label))
	return acc
}

func leafProperty(node *SensorTreeNode, parent []string, label string) PropertyDescription {
	fullPath := make([]string, 0, len(parent)+1)
	fullPath = append(fullPath, parent...)
	fullPath = append(fullPath, label)

	value, unit := ParseReading(string(node.Value))

	p := PropertyDescription{
		Name:         label,
		Label:        label,
		Path:         fullPath,
		NodeID:       node.ID,
		SensorID:     node.SensorID,
		Value:        value,
		Unit:         unit,
		Description:  strings.Join(fullPath, " / "),
		SemanticType: semanticType(node.Type, unit),
	}
	if _, ok := value.(float64); ok {
		p.Type = TypeNumber
		p.Minimum = parseBound(node.Min, unit)
		p.Maximum = parseBound(node.Max, unit)
	} else {
		p.Type = TypeString
		p.Unit = ""
	}
	return p
}

// ParseReading splits a raw reading into a value and a unit.
//
// The numeric component is everything before the first whitespace and
// the unit is the remainder ("45.0 °C" gives 45.0 and "°C"). A decimal
// comma is accepted; thousands separators are not. When there is no
// separator the whole string is the value. Anything that does not parse
// as a finite number is returned as the whole trimmed string with no
// unit. An empty reading returns nil.
func ParseReading(raw string) (value any, unit string) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, ""
	}

	idx := strings.IndexFunc(s, unicode.IsSpace)
	if idx < 0 {
		if f, ok := parseNumber(s); ok {
			return f, ""
		}
		return s, ""
	}

	if f, ok := parseNumber(s[:idx]); ok {
		return f, strings.TrimSpace(s[idx:])
	}
	return s, ""
}

// parseNumber accepts a decimal point or a single decimal comma. Digit
// grouping is not supported: the monitor prints fixed-point values, so a
// comma-locale voltage such as "1,200" with three decimals means 1.2, and
// "1,234,567" is not a number.
func parseNumber(s string) (float64, bool) {
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	// ParseFloat accepts "NaN" and "Inf" spellings; readings never mean those.
	if s == "" || !(s[0] == '-' || s[0] == '+' || s[0] == '.' || (s[0] >= '0' && s[0] <= '9')) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseBound(r Reading, unit string) *float64 {
	v, u := ParseReading(string(r))
	f, ok := v.(float64)
	if !ok || u != unit {
		return nil
	}
	return &f
}

var (
	semanticBySensorType = map[string]string{
		"Temperature": "TemperatureProperty",
		"Voltage":     "VoltageProperty",
		"Current":     "CurrentProperty",
		"Power":       "InstantaneousPowerProperty",
		"Clock":       "FrequencyProperty",
		"Frequency":   "FrequencyProperty",
		"Load":        "LevelProperty",
		"Level":       "LevelProperty",
		"Control":     "LevelProperty",
	}
	semanticByUnit = map[string]string{
		"°C":  "TemperatureProperty",
		"°F":  "TemperatureProperty",
		"V":   "VoltageProperty",
		"A":   "CurrentProperty",
		"W":   "InstantaneousPowerProperty",
		"Hz":  "FrequencyProperty",
		"kHz": "FrequencyProperty",
		"MHz": "FrequencyProperty",
		"GHz": "FrequencyProperty",
		"%":   "LevelProperty",
	}
)

// semanticType maps a sensor kind to a property capability tag. The unit
// is only consulted when the node does not name its kind.
func semanticType(sensorType, unit string) string {
	if sensorType != "" {
		return semanticBySensorType[sensorType]
	}
	return semanticByUnit[unit]
}

// GroupDevices partitions property descriptions into device descriptions.
//
// The first depth labels of a property's path are the device boundary.
// Leaves shallower than that use every label but their own. The device ID
// is the slug of the boundary labels, the device name is the last boundary
// label, and the property name is the remaining labels joined by "/".
// Devices and properties keep first-seen order.
func GroupDevices(props []PropertyDescription, depth int) []DeviceDescription {
	if depth < 1 {
		depth = DefaultDeviceDepth
	}

	type group struct {
		desc  DeviceDescription
		taken map[string]struct{}
	}
	groups := make(map[string]*group)
	var order []string
	usedIDs := make(map[string]struct{})

	for _, p := range props {
		path := p.Path
		if len(path) == 0 {
			path = []string{p.Name}
		}

		boundary := min(depth, len(path)-1)
		prefix, rest := path[:boundary], path[boundary:]
		if boundary == 0 {
			prefix = path
		}

		key := strings.Join(prefix, "\x1f")
		g, ok := groups[key]
		if !ok {
			id := uniqueID(DeviceID(prefix), usedIDs)
			g = &group{
				desc: DeviceDescription{
					ID:          id,
					Name:        prefix[len(prefix)-1],
					Type:        DeviceTypeMultiLevelSensor,
					Description: strings.Join(prefix, " / "),
				},
				taken: make(map[string]struct{}),
			}
			groups[key] = g
			order = append(order, key)
		}

		name := strings.Join(rest, "/")
		candidate := name
		for n := 2; ; n++ {
			if _, dup := g.taken[candidate]; !dup {
				break
			}
			candidate = fmt.Sprintf("%s#%d", name, n)
		}
		g.taken[candidate] = struct{}{}

		p.Name = candidate
		g.desc.Properties = append(g.desc.Properties, p)
	}

	out := make([]DeviceDescription, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key].desc)
	}
	return out
}

// DeviceID derives a device ID from its boundary labels.
func DeviceID(labels []string) string {
	id := GenerateSlug(strings.Join(labels, " "))
	if id == "" {
		return "device"
	}
	return id
}

func uniqueID(id string, used map[string]struct{}) string {
	candidate := id
	for n := 2; ; n++ {
		if _, taken := used[candidate]; !taken {
			break
		}
		candidate = fmt.Sprintf("%s-%d", id, n)
	}
	used[candidate] = struct{}{}
	return candidate
}

// GenerateSlug creates a URL-safe slug from a name.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)

	// Replace separators with hyphens
	slug = strings.NewReplacer(" ", "-", "_", "-", "/", "-", ".", "-").Replace(slug)

	// Remove any characters that aren't alphanumeric or hyphens
	var result strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	slug = result.String()

	// Remove leading/trailing hyphens and collapse multiple hyphens
	slug = strings.Trim(slug, "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}

	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
		slug = strings.TrimRight(slug, "-")
	}
	return slug
}
