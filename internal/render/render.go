// Package render produces document bytes from template content and
// caller-supplied data. The default engine substitutes {{name}}
// placeholders and converts markdown templates to HTML; binary formats
// (docx, pdf) pass substituted bytes through for a downstream
// converter.
package render

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	ghtml "github.com/yuin/goldmark/renderer/html"

	"docvault.org/internal/template"
)

// ErrRender wraps every failure from the engine so callers can treat
// rendering as a single fallible stage.
var ErrRender = fmt.Errorf("render: engine failure")

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Engine is the default Renderer. Markdown templates are converted to
// HTML after substitution; HTML and binary templates are substituted
// in place.
type Engine struct {
	md goldmark.Markdown
}

func NewEngine() *Engine {
	return &Engine{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(ghtml.WithHardWraps()),
		),
	}
}

func (e *Engine) Render(ctx context.Context, templateContent []byte, format template.Format, data map[string]any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	substituted := e.substitute(templateContent, data)
	if format != template.FormatMarkdown {
		return substituted, nil
	}
	var buf bytes.Buffer
	if err := e.md.Convert(substituted, &buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

// substitute replaces {{name}} tokens with the formatted value from
// data. Unknown tokens are left intact so the placeholder validation
// upstream stays the single authority on completeness.
func (e *Engine) substitute(content []byte, data map[string]any) []byte {
	return placeholderRe.ReplaceAllFunc(content, func(match []byte) []byte {
		name := string(placeholderRe.FindSubmatch(match)[1])
		value, ok := data[name]
		if !ok {
			return match
		}
		return []byte(formatValue(value))
	})
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format("2006-01-02")
	case float64:
		// json.Unmarshal delivers every number as float64; print
		// integral values without a fraction.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
