package catalog

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// expandEnvRefs substitutes $VAR and ${VAR} references in every string
// scalar of the YAML document. Unset variables expand to the empty string
// and are reported so the caller can warn about them. Expansion happens on
// the node tree, not the raw text, so variable values containing YAML
// syntax cannot change the document structure.
func expandEnvRefs(raw []byte) (expanded string, missing []string, err error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return "", nil, fmt.Errorf("parse config: %w", err)
	}

	unset := make(map[string]struct{})
	walkScalars(&root, func(node *yaml.Node) {
		expandScalarNode(node, unset)
	})

	out, err := yaml.Marshal(&root)
	if err != nil {
		return "", nil, fmt.Errorf("encode expanded config: %w", err)
	}

	missing = make([]string, 0, len(unset))
	for name := range unset {
		missing = append(missing, name)
	}
	sort.Strings(missing)
	if len(missing) == 0 {
		missing = nil
	}
	return string(out), missing, nil
}

func walkScalars(node *yaml.Node, visit func(*yaml.Node)) {
	switch node.Kind {
	case yaml.ScalarNode:
		visit(node)
	case yaml.MappingNode:
		// Expand values only; keys stay literal.
		for i := 1; i < len(node.Content); i += 2 {
			walkScalars(node.Content[i], visit)
		}
	case yaml.AliasNode:
		if node.Alias != nil {
			walkScalars(node.Alias, visit)
		}
	default:
		for _, child := range node.Content {
			walkScalars(child, visit)
		}
	}
}

func expandScalarNode(node *yaml.Node, unset map[string]struct{}) {
	if node.Tag != "" && node.Tag != "!!str" {
		return
	}
	if !strings.Contains(node.Value, "$") {
		return
	}

	value := os.Expand(node.Value, func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		unset[key] = struct{}{}
		return ""
	})
	if value == node.Value {
		return
	}

	// Quoted scalars stay strings no matter what they expanded to.
	if node.Style != 0 {
		node.Tag = "!!str"
		node.Value = value
		return
	}
	node.Tag, node.Value = retypeScalar(value)
}

// retypeScalar lets an expanded plain scalar take its natural YAML type,
// so `timeout: $TIMEOUT` with TIMEOUT=30 decodes as an integer.
func retypeScalar(value string) (tag, out string) {
	if strings.TrimSpace(value) == "" {
		return "!!str", value
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return "!!str", value
	}
	switch v := parsed.(type) {
	case nil:
		return "!!null", "null"
	case bool:
		return "!!bool", strconv.FormatBool(v)
	case int:
		return "!!int", strconv.Itoa(v)
	case float64:
		return "!!float", strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return "!!str", value
	}
}
