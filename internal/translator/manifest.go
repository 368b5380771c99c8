package translator

import (
	"bufio"
	"fmt"
	"strings"

	"argus/internal/property"
	"argus/internal/route"
)

// Manifest is the machine-readable header every artifact carries.
type Manifest struct {
	PropertySetHash string
	Translator      string
	Function        string
	Goals           []ManifestGoal
	Hyps            []ManifestHyp
}

type ManifestGoal struct {
	ID       string
	Category property.Category
	Property string
}

type ManifestHyp struct {
	ID       string
	Property string
}

const markerTag = "argus:"

// CommentPrefix returns the line comment token of the engine's language.
func CommentPrefix(e route.Engine) string {
	if e == route.SMTBacked {
		return "//"
	}
	return "--"
}

// RenderManifest writes the header for set.
func RenderManifest(e route.Engine, k route.TranslatorKind, set *property.Set) string {
	c := CommentPrefix(e)
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s argus:property-set %s\n", c, set.Hash)
	fmt.Fprintf(&sb, "%s argus:translator %s\n", c, k)
	fmt.Fprintf(&sb, "%s argus:function %s\n", c, set.Function)
	for _, a := range set.Assumptions {
		fmt.Fprintf(&sb, "%s argus:hyp %s :: %s\n", c, a.ID, a.Property)
	}
	for _, o := range set.Obligations {
		fmt.Fprintf(&sb, "%s argus:goal %s %s :: %s\n", c, o.ID, o.Category, o.Property)
	}
	return sb.String()
}

// ParseManifest reads manifest lines back out of an artifact.
func ParseManifest(e route.Engine, source string) (Manifest, error) {
	var m Manifest
	prefix := CommentPrefix(e) + " " + markerTag
	sc := bufio.NewScanner(strings.NewReader(source))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rest := strings.TrimPrefix(line, prefix)
		key, val, _ := strings.Cut(rest, " ")
		switch key {
		case "property-set":
			m.PropertySetHash = val
		case "translator":
			m.Translator = val
		case "function":
			m.Function = val
		case "hyp":
			head, prop, ok := strings.Cut(val, " :: ")
			if !ok {
				return m, fmt.Errorf("malformed hypothesis line %q", line)
			}
			m.Hyps = append(m.Hyps, ManifestHyp{ID: head, Property: prop})
		case "goal":
			head, prop, ok := strings.Cut(val, " :: ")
			fields := strings.Fields(head)
			if !ok || len(fields) != 2 {
				return m, fmt.Errorf("malformed goal line %q", line)
			}
			m.Goals = append(m.Goals, ManifestGoal{ID: fields[0], Category: property.Category(fields[1]), Property: prop})
		default:
			return m, fmt.Errorf("unknown manifest key %q", key)
		}
	}
	return m, sc.Err()
}
