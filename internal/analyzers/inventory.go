package analyzers

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"repolens/internal/analysis"
)

// skipDirs are directories never worth walking into.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"build":        true,
	"dist":         true,
	"target":       true,
	".dart_tool":   true,
}

// Inventory is the walked file set of a materialized repository plus the
// documentation and configuration files collected along the way.
type Inventory struct {
	Files              []analysis.FileInfo
	DocumentationFiles []string
	ConfigFiles        []string
}

// BuildInventory walks a checkout and classifies its files. Files larger
// than maxFileSize get size metadata but no line count.
func BuildInventory(root string, maxFileSize int64) (*Inventory, error) {
	inv := &Inventory{}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		name := info.Name()
		if info.IsDir() {
			// .github stays visible for CI workflow collection.
			if strings.HasPrefix(name, ".") && path != root && name != ".github" {
				return filepath.SkipDir
			}
			if skipDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if isDocumentationFile(rel) {
			inv.DocumentationFiles = append(inv.DocumentationFiles, rel)
		}
		if isConfigFile(rel) {
			inv.ConfigFiles = append(inv.ConfigFiles, rel)
		}

		fi := analysis.FileInfo{
			Path: rel,
			Size: info.Size(),
		}
		if lang := LanguageForPath(rel); lang != "" {
			fi.Language = lang.DisplayName()
			if maxFileSize <= 0 || info.Size() <= maxFileSize {
				fi.Lines = countLines(path)
			}
		}
		inv.Files = append(inv.Files, fi)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(inv.Files, func(i, j int) bool { return inv.Files[i].Path < inv.Files[j].Path })
	return inv, nil
}

// Summarize rolls the inventory up into the record summary fields.
func (inv *Inventory) Summarize() analysis.RepoSummary {
	langs := map[string]bool{}
	lines := 0
	for _, f := range inv.Files {
		if f.Language != "" {
			langs[f.Language] = true
		}
		lines += f.Lines
	}

	names := make([]string, 0, len(langs))
	for l := range langs {
		names = append(names, l)
	}
	sort.Strings(names)

	return analysis.RepoSummary{
		FilesCount:         len(inv.Files),
		LinesOfCode:        lines,
		Languages:          names,
		DocumentationFiles: inv.DocumentationFiles,
		ConfigFiles:        inv.ConfigFiles,
	}
}

func countLines(path string) int {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}

func isDocumentationFile(rel string) bool {
	lower := strings.ToLower(rel)
	if strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".rst") || strings.HasSuffix(lower, ".adoc") {
		return true
	}
	base := filepath.Base(lower)
	return base == "readme" || base == "changelog" || base == "license"
}

var configFileNames = map[string]bool{
	"package.json":       true,
	"go.mod":             true,
	"requirements.txt":   true,
	"pyproject.toml":     true,
	"cargo.toml":         true,
	"pubspec.yaml":       true,
	"pom.xml":            true,
	"build.gradle":       true,
	"build.gradle.kts":   true,
	"gemfile":            true,
	"dockerfile":         true,
	"docker-compose.yml": true,
	"makefile":           true,
	".gitignore":         true,
}

func isConfigFile(rel string) bool {
	base := strings.ToLower(filepath.Base(rel))
	if configFileNames[base] {
		return true
	}
	// CI workflow definitions
	dir := filepath.ToSlash(filepath.Dir(rel))
	return strings.HasPrefix(dir, ".github/workflows") &&
		(strings.HasSuffix(base, ".yml") || strings.HasSuffix(base, ".yaml"))
}
