package diagfmt

import (
	"encoding/json"
	"io"

	"crepl/internal/diag"
)

// GroupJSON представляет одну группу диагностики в JSON формате
type GroupJSON struct {
	Message string   `json:"message"`
	Context []string `json:"context"`
	File    string   `json:"file,omitempty"`
	Line    uint32   `json:"line,omitempty"`
	Col     uint32   `json:"col,omitempty"`
}

// DiagnosticsOutput представляет корневую структуру JSON вывода
type DiagnosticsOutput struct {
	Groups    []GroupJSON `json:"groups"`
	Count     int         `json:"count"`
	Malformed bool        `json:"malformed,omitempty"`
	Raw       string      `json:"raw,omitempty"`
}

// BuildOutput converts a set into its JSON shape. raw is included only when
// malformed is set.
func BuildOutput(set *diag.Set, raw string, malformed bool) DiagnosticsOutput {
	out := DiagnosticsOutput{
		Groups:    make([]GroupJSON, 0, set.Len()),
		Count:     set.Len(),
		Malformed: malformed,
	}
	for _, g := range set.Items() {
		out.Groups = append(out.Groups, GroupJSON{
			Message: g.Message,
			Context: []string{g.Context[0], g.Context[1]},
			File:    g.Location.File,
			Line:    g.Location.Line,
			Col:     g.Location.Col,
		})
	}
	if malformed {
		out.Raw = raw
	}
	return out
}

// JSON writes the set as one indented JSON document.
func JSON(w io.Writer, set *diag.Set, raw string, malformed bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(BuildOutput(set, raw, malformed))
}
