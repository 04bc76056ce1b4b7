package backend

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
)

// placeholder matches ${name} segments in an endpoint path.
var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// expandPath substitutes ${name} placeholders in path with escaped values
// from params. Consumed params are left out of the returned set so they
// are not sent a second time as query or body fields.
func expandPath(path string, params Params) (string, Params, error) {
	if !strings.Contains(path, "${") {
		return path, params, nil
	}

	used := make(map[string]bool)
	var missing []string
	expanded := placeholder.ReplaceAllStringFunc(path, func(match string) string {
		name := match[2 : len(match)-1]
		v, ok := params[name]
		if !ok || v == nil || fmt.Sprint(v) == "" {
			missing = append(missing, name)
			return match
		}
		used[name] = true
		return url.PathEscape(fmt.Sprint(v))
	})
	if len(missing) > 0 {
		return "", nil, &flowerrors.ValidationError{
			Field:   strings.Join(missing, ","),
			Message: "required by endpoint path " + path,
		}
	}

	rest := make(Params, len(params))
	for k, v := range params {
		if !used[k] {
			rest[k] = v
		}
	}
	return expanded, rest, nil
}
