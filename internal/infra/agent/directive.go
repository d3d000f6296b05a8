package agent

import (
	"encoding/json"
	"strings"
)

const (
	directiveToolMarker   = "TOOL_CALL:"
	directiveParamsMarker = "PARAMETERS:"
)

// directive is one tool invocation the model asked for.
type directive struct {
	Tool      string
	RawParams string
}

// parseDirectives scans a model response for TOOL_CALL/PARAMETERS pairs.
// The parameter object is extracted by balanced-brace matching, so nested
// objects and trailing prose after the closing brace are handled. Each
// parameter object belongs to the nearest preceding TOOL_CALL only: a
// TOOL_CALL with no PARAMETERS of its own before the next marker is not a
// directive, and never claims a later directive's object.
func parseDirectives(response string) []directive {
	var directives []directive
	rest := response
	for {
		idx := strings.Index(rest, directiveToolMarker)
		if idx < 0 {
			break
		}
		rest = rest[idx+len(directiveToolMarker):]

		name := leadingToolName(rest)
		if name == "" {
			continue
		}

		segment := rest
		if next := strings.Index(rest, directiveToolMarker); next >= 0 {
			segment = rest[:next]
		}
		paramsIdx := strings.Index(segment, directiveParamsMarker)
		if paramsIdx < 0 {
			continue
		}
		span, end, ok := objectSpan(rest[paramsIdx+len(directiveParamsMarker):])
		if !ok {
			// Keep the directive: the caller reports the unparseable
			// parameters instead of silently dropping the call.
			directives = append(directives, directive{Tool: name})
			rest = rest[paramsIdx+len(directiveParamsMarker):]
			continue
		}
		directives = append(directives, directive{Tool: name, RawParams: span})
		rest = rest[paramsIdx+len(directiveParamsMarker)+end:]
	}
	return directives
}

// leadingToolName extracts the tool token right after a TOOL_CALL marker.
func leadingToolName(s string) string {
	s = strings.TrimLeft(s, " \t")
	end := 0
	for end < len(s) && isToolNameChar(s[end]) {
		end++
	}
	return s[:end]
}

func isToolNameChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-' || c == ':':
		return true
	default:
		return false
	}
}

// objectSpan finds the first balanced JSON-looking object in s. It returns
// the span text and the offset just past the closing brace. Brace counting
// ignores string context, mirroring a permissive reading of model output.
func objectSpan(s string) (span string, end int, ok bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", 0, false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], i + 1, true
			}
		}
	}
	return "", 0, false
}

// parseParams decodes a directive's raw parameter object. nil with ok=false
// means the parameters could not be parsed.
func parseParams(raw string) (map[string]any, bool) {
	if raw == "" {
		return nil, false
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, false
	}
	return params, true
}
