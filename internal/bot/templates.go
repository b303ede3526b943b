package bot

import (
	"embed"
	"path"
	"sort"
	"strings"
)

//go:embed templates/*.star
var templateFS embed.FS

// Template is a starter bot program shipped with the server.
type Template struct {
	Name      string `json:"name"`
	ClassName string `json:"class_name"`
	Code      string `json:"code"`
}

// Templates returns the built-in starter bots, sorted by name.
func Templates() []Template {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil
	}

	templates := make([]Template, 0, len(entries))
	for _, entry := range entries {
		data, err := templateFS.ReadFile(path.Join("templates", entry.Name()))
		if err != nil {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".star")
		templates = append(templates, Template{
			Name:      name,
			ClassName: classNameFor(name),
			Code:      string(data),
		})
	}

	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates
}

// classNameFor converts a snake_case template file name into the constructor
// name its code defines.
func classNameFor(name string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "")
}
