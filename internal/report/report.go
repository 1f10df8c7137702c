// Package report renders analysis results as aligned text, YAML or JSON and
// exports curve tables to spreadsheets.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

// Format selects the output encoding.
type Format string

// Supported formats.
const (
	Text Format = "text"
	YAML Format = "yaml"
	JSON Format = "json"
)

// ParseFormat accepts text, yaml or json, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", Text:
		return Text, nil
	case YAML, "yml":
		return YAML, nil
	case JSON:
		return f, nil
	default:
		return "", eris.Errorf("report: unknown format %q", s)
	}
}

// TextFunc writes the human-readable form of a result.
type TextFunc func(w io.Writer) error

// Write encodes v in format. Text output uses text; the structured formats
// encode v itself.
func Write(w io.Writer, format Format, v any, text TextFunc) error {
	switch format {
	case Text, "":
		return text(w)
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "report: encode yaml")
		}
		return eris.Wrap(enc.Close(), "report: flush yaml")
	case JSON:
		safe, err := jsonSafe(v)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(safe), "report: encode json")
	default:
		return eris.Errorf("report: unknown format %q", format)
	}
}

// jsonSafe rebuilds v as plain maps and slices with NaN and infinite values
// replaced by null, which encoding/json cannot otherwise represent. The
// rebuild goes through YAML so the yaml field names are kept.
func jsonSafe(v any) (any, error) {
	b, err := yaml.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "report: encode for json")
	}
	var tree any
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return nil, eris.Wrap(err, "report: decode for json")
	}
	return nullNonFinite(tree), nil
}

func nullNonFinite(v any) any {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = nullNonFinite(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = nullNonFinite(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = nullNonFinite(e)
		}
		return t
	default:
		return v
	}
}

// printer groups thousands in counts and areas.
var printer = message.NewPrinter(language.English)

// num formats v with precision significant digits, or "-" when undefined.
func num(v float64, precision int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return fmt.Sprintf("%.*g", precision, v)
}

// pval formats a p-value the way R prints small ones.
func pval(p float64) string {
	switch {
	case math.IsNaN(p):
		return "-"
	case p < 2.2e-16:
		return "< 2.2e-16"
	case p < 1e-4:
		return fmt.Sprintf("%.2e", p)
	default:
		return fmt.Sprintf("%.4f", p)
	}
}

// stars are the significance codes of an R coefficient table.
func stars(p float64) string {
	switch {
	case math.IsNaN(p):
		return ""
	case p < 0.001:
		return "***"
	case p < 0.01:
		return "**"
	case p < 0.05:
		return "*"
	case p < 0.1:
		return "."
	default:
		return ""
	}
}
