package analyzers

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"repolens/internal/analysis"
	"repolens/internal/stage"
)

// frameworkHints maps well-known dependency names to framework labels.
var frameworkHints = map[string]string{
	"react":                        "React",
	"react-dom":                    "React",
	"next":                         "Next.js",
	"vue":                          "Vue",
	"@angular/core":                "Angular",
	"svelte":                       "Svelte",
	"express":                      "Express",
	"fastify":                      "Fastify",
	"django":                       "Django",
	"flask":                        "Flask",
	"fastapi":                      "FastAPI",
	"rails":                        "Rails",
	"actix-web":                    "Actix",
	"axum":                         "Axum",
	"rocket":                       "Rocket",
	"flutter":                      "Flutter",
	"github.com/gin-gonic/gin":     "Gin",
	"github.com/labstack/echo/v4":  "Echo",
	"github.com/gofiber/fiber/v2":  "Fiber",
	"github.com/spf13/cobra":       "Cobra",
	"spring-boot-starter":          "Spring Boot",
	"org.springframework.boot":     "Spring Boot",
}

// ManifestStrategy is the primary tech-stack strategy: it parses the
// package manifests a repository actually declares.
type ManifestStrategy struct{}

// NewManifestStrategy creates the manifest-parsing tech-stack strategy.
func NewManifestStrategy() *ManifestStrategy { return &ManifestStrategy{} }

// Name implements stage.Strategy.
func (s *ManifestStrategy) Name() string { return "manifest" }

// Available implements stage.Strategy. The strategy applies when at least
// one recognized manifest is present.
func (s *ManifestStrategy) Available(in stage.Input) bool {
	for _, f := range in.Files {
		if _, ok := manifestParsers[filepath.Base(f.Path)]; ok {
			return true
		}
	}
	return false
}

type manifestParser func(path string) ([]analysis.Dependency, error)

var manifestParsers = map[string]manifestParser{
	"go.mod":           parseGoMod,
	"package.json":     parsePackageJSON,
	"requirements.txt": parseRequirements,
	"pyproject.toml":   parsePyproject,
	"Cargo.toml":       parseCargoToml,
	"pubspec.yaml":     parsePubspec,
	"pom.xml":          parsePomXML,
}

// packageManagerFor maps manifest file names to the package manager they
// belong to.
var packageManagerFor = map[string]string{
	"go.mod":           "go",
	"package.json":     "npm",
	"requirements.txt": "pip",
	"pyproject.toml":   "pip",
	"Cargo.toml":       "cargo",
	"pubspec.yaml":     "pub",
	"pom.xml":          "maven",
}

// Run parses every recognized manifest and assembles the tech-stack
// payload: dependencies, package managers, frameworks, and the language
// set observed in the file inventory.
func (s *ManifestStrategy) Run(ctx context.Context, in stage.Input) (json.RawMessage, error) {
	payload := analysis.TechStackPayload{}
	managers := map[string]bool{}
	seen := map[string]bool{}

	for _, f := range in.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		base := filepath.Base(f.Path)
		parse, ok := manifestParsers[base]
		if !ok {
			continue
		}
		deps, err := parse(filepath.Join(in.LocalPath, filepath.FromSlash(f.Path)))
		if err != nil {
			continue
		}
		manager := packageManagerFor[base]
		managers[manager] = true
		for _, d := range deps {
			d.PackageManager = manager
			key := manager + "/" + d.Name
			if seen[key] {
				continue
			}
			seen[key] = true
			payload.Dependencies = append(payload.Dependencies, d)
		}
	}

	payload.Languages = languagesFromFiles(in.Files)
	payload.PackageManagers = sortedKeys(managers)
	payload.Frameworks = detectFrameworks(payload.Dependencies)

	return json.Marshal(payload)
}

// ExtensionStrategy is the fallback tech-stack strategy: it infers
// languages from the file inventory alone and reports no dependencies.
type ExtensionStrategy struct{}

// NewExtensionStrategy creates the extension-histogram fallback.
func NewExtensionStrategy() *ExtensionStrategy { return &ExtensionStrategy{} }

// Name implements stage.Strategy.
func (s *ExtensionStrategy) Name() string { return "extension" }

// Available implements stage.Strategy.
func (s *ExtensionStrategy) Available(stage.Input) bool { return true }

// Run implements stage.Strategy.
func (s *ExtensionStrategy) Run(ctx context.Context, in stage.Input) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload := analysis.TechStackPayload{
		Languages: languagesFromFiles(in.Files),
	}
	return json.Marshal(payload)
}

func languagesFromFiles(files []analysis.FileInfo) []string {
	set := map[string]bool{}
	for _, f := range files {
		if lang := LanguageForPath(f.Path); lang != "" {
			set[lang.DisplayName()] = true
		}
	}
	return sortedKeys(set)
}

func detectFrameworks(deps []analysis.Dependency) []string {
	set := map[string]bool{}
	for _, d := range deps {
		if fw, ok := frameworkHints[d.Name]; ok {
			set[fw] = true
			continue
		}
		// Maven names arrive as group:artifact.
		if strings.Contains(d.Name, "spring-boot") {
			set["Spring Boot"] = true
		}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseGoMod(path string) ([]analysis.Dependency, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var deps []analysis.Dependency
	inBlock := false
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "require (":
			inBlock = true
		case inBlock && line == ")":
			inBlock = false
		case inBlock, strings.HasPrefix(line, "require "):
			entry := strings.TrimPrefix(line, "require ")
			fields := strings.Fields(entry)
			if len(fields) < 2 || fields[0] == "(" {
				continue
			}
			deps = append(deps, analysis.Dependency{
				Name:    fields[0],
				Version: fields[1],
				Dev:     strings.Contains(line, "// indirect"),
			})
		}
	}
	return deps, scanner.Err()
}

func parsePackageJSON(path string) ([]analysis.Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	var deps []analysis.Dependency
	for name, version := range manifest.Dependencies {
		deps = append(deps, analysis.Dependency{Name: name, Version: version})
	}
	for name, version := range manifest.DevDependencies {
		deps = append(deps, analysis.Dependency{Name: name, Version: version, Dev: true})
	}
	sortDeps(deps)
	return deps, nil
}

func parseRequirements(path string) ([]analysis.Dependency, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var deps []analysis.Dependency
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		name, version := splitRequirement(line)
		deps = append(deps, analysis.Dependency{Name: name, Version: version})
	}
	return deps, scanner.Err()
}

// splitRequirement splits a pip requirement line into name and version
// constraint. Environment markers and extras are discarded.
func splitRequirement(line string) (string, string) {
	if i := strings.Index(line, ";"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	for _, op := range []string{"==", ">=", "<=", "~=", "!=", ">", "<"} {
		if i := strings.Index(line, op); i >= 0 {
			return strings.TrimSpace(trimExtras(line[:i])), strings.TrimSpace(line[i:])
		}
	}
	return trimExtras(line), ""
}

func trimExtras(name string) string {
	if i := strings.Index(name, "["); i >= 0 {
		return strings.TrimSpace(name[:i])
	}
	return strings.TrimSpace(name)
}

func parsePyproject(path string) ([]analysis.Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest struct {
		Project struct {
			Dependencies []string `toml:"dependencies"`
		} `toml:"project"`
		Tool struct {
			Poetry struct {
				Dependencies map[string]interface{} `toml:"dependencies"`
			} `toml:"poetry"`
		} `toml:"tool"`
	}
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	var deps []analysis.Dependency
	for _, req := range manifest.Project.Dependencies {
		name, version := splitRequirement(req)
		deps = append(deps, analysis.Dependency{Name: name, Version: version})
	}
	for name, spec := range manifest.Tool.Poetry.Dependencies {
		if name == "python" {
			continue
		}
		version := ""
		if s, ok := spec.(string); ok {
			version = s
		}
		deps = append(deps, analysis.Dependency{Name: name, Version: version})
	}
	sortDeps(deps)
	return deps, nil
}

func parseCargoToml(path string) ([]analysis.Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest struct {
		Dependencies    map[string]interface{} `toml:"dependencies"`
		DevDependencies map[string]interface{} `toml:"dev-dependencies"`
	}
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	deps := cargoDeps(manifest.Dependencies, false)
	deps = append(deps, cargoDeps(manifest.DevDependencies, true)...)
	sortDeps(deps)
	return deps, nil
}

func cargoDeps(section map[string]interface{}, dev bool) []analysis.Dependency {
	var deps []analysis.Dependency
	for name, spec := range section {
		version := ""
		switch v := spec.(type) {
		case string:
			version = v
		case map[string]interface{}:
			if s, ok := v["version"].(string); ok {
				version = s
			}
		}
		deps = append(deps, analysis.Dependency{Name: name, Version: version, Dev: dev})
	}
	return deps
}

func parsePubspec(path string) ([]analysis.Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest struct {
		Dependencies    map[string]interface{} `yaml:"dependencies"`
		DevDependencies map[string]interface{} `yaml:"dev_dependencies"`
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	var deps []analysis.Dependency
	for name, spec := range manifest.Dependencies {
		version := ""
		if s, ok := spec.(string); ok {
			version = s
		}
		deps = append(deps, analysis.Dependency{Name: name, Version: version})
	}
	for name, spec := range manifest.DevDependencies {
		version := ""
		if s, ok := spec.(string); ok {
			version = s
		}
		deps = append(deps, analysis.Dependency{Name: name, Version: version, Dev: true})
	}
	sortDeps(deps)
	return deps, nil
}

func parsePomXML(path string) ([]analysis.Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Shallow scan for <dependency> blocks; full POM resolution is out
	// of reach without Maven itself.
	var deps []analysis.Dependency
	content := string(data)
	for {
		start := strings.Index(content, "<dependency>")
		if start < 0 {
			break
		}
		end := strings.Index(content[start:], "</dependency>")
		if end < 0 {
			break
		}
		block := content[start : start+end]
		content = content[start+end:]

		group := xmlTagValue(block, "groupId")
		artifact := xmlTagValue(block, "artifactId")
		if artifact == "" {
			continue
		}
		name := artifact
		if group != "" {
			name = group + ":" + artifact
		}
		deps = append(deps, analysis.Dependency{
			Name:    name,
			Version: xmlTagValue(block, "version"),
			Dev:     xmlTagValue(block, "scope") == "test",
		})
	}
	return deps, nil
}

func xmlTagValue(block, tag string) string {
	open := "<" + tag + ">"
	closing := "</" + tag + ">"
	start := strings.Index(block, open)
	if start < 0 {
		return ""
	}
	rest := block[start+len(open):]
	end := strings.Index(rest, closing)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

func sortDeps(deps []analysis.Dependency) {
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
}
