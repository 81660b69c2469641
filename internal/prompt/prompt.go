// Package prompt renders the instruction templates that wrap the first
// message of a conversation.
package prompt

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Kind names a template.
type Kind string

const (
	KindProject  Kind = "project"
	KindDocument Kind = "document"
)

const (
	defaultProjectTemplate  = `Based on this codebase {{.Context}}, {{.Message}}. Please format it too, and give 2 lines of space between each new section.`
	defaultDocumentTemplate = `Based on this document {{.Context}}, {{.Message}}. Please format it too, and give 2 lines of space between each new section.`
)

// Data is the template input.
type Data struct {
	Context string
	Message string
}

// File is the YAML layout of a prompts override file.
//
//	project: "Given {{.Context}} answer {{.Message}}"
//	document: "..."
type File struct {
	Project  string `yaml:"project"`
	Document string `yaml:"document"`
}

// Set holds the parsed templates.
type Set struct {
	templates map[Kind]*template.Template
}

// Default returns the built-in templates.
func Default() *Set {
	s, err := build(File{})
	if err != nil {
		panic(fmt.Sprintf("prompt: built-in templates: %v", err))
	}
	return s
}

// Load reads a YAML override file. Templates missing from the file keep
// their defaults. An empty path returns Default().
func Load(path string) (*Set, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompt: read %s: %w", path, err)
	}
	return LoadBytes(raw)
}

// LoadBytes parses a YAML override document.
func LoadBytes(data []byte) (*Set, error) {
	var f File
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &f); err != nil {
		return nil, fmt.Errorf("prompt: parse: %w", err)
	}
	return build(f)
}

func build(f File) (*Set, error) {
	sources := map[Kind]string{
		KindProject:  defaultProjectTemplate,
		KindDocument: defaultDocumentTemplate,
	}
	if strings.TrimSpace(f.Project) != "" {
		sources[KindProject] = f.Project
	}
	if strings.TrimSpace(f.Document) != "" {
		sources[KindDocument] = f.Document
	}

	s := &Set{templates: make(map[Kind]*template.Template, len(sources))}
	for kind, src := range sources {
		t, err := template.New(string(kind)).Option("missingkey=error").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("prompt: template %s: %w", kind, err)
		}
		s.templates[kind] = t
	}
	return s, nil
}

// Render wraps message and its context with the kind's template.
func (s *Set) Render(kind Kind, context, message string) (string, error) {
	t, ok := s.templates[kind]
	if !ok {
		return "", fmt.Errorf("prompt: unknown template %q", kind)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, Data{Context: context, Message: message}); err != nil {
		return "", fmt.Errorf("prompt: render %s: %w", kind, err)
	}
	return buf.String(), nil
}

// envVarPattern matches ${VAR_NAME}. Bare $VAR is left alone so template
// text can contain dollar signs.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}
