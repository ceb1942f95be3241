package architecture_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const modulePath = "duckbridge"

type layerRule struct {
	sourcePrefix string
	forbidden    []string
	hint         string
}

// Outer layers: binaries, the CLI, and the HTTP surface.
var outer = []string{
	modulePath + "/cmd",
	modulePath + "/pkg/cli",
	modulePath + "/internal/api",
}

func with(extra ...string) []string {
	return append(append([]string(nil), outer...), extra...)
}

var rules = []layerRule{
	{
		sourcePrefix: modulePath + "/internal/domain",
		forbidden: with(
			modulePath+"/internal/coordinator",
			modulePath+"/internal/engine",
			modulePath+"/internal/remote",
			modulePath+"/internal/flightsql",
			modulePath+"/internal/normalize",
			modulePath+"/internal/gate",
			modulePath+"/internal/ddl",
			modulePath+"/internal/middleware",
			modulePath+"/internal/config",
		),
		hint: "domain may only import domain",
	},
	{
		sourcePrefix: modulePath + "/internal/ddl",
		forbidden: with(
			modulePath+"/internal/coordinator",
			modulePath+"/internal/engine",
			modulePath+"/internal/remote",
		),
		hint: "ddl builds statements and depends on nothing above it",
	},
	{
		sourcePrefix: modulePath + "/internal/gate",
		forbidden: with(
			modulePath+"/internal/coordinator",
			modulePath+"/internal/engine",
			modulePath+"/internal/remote",
		),
		hint: "gate should depend on domain only",
	},
	{
		sourcePrefix: modulePath + "/internal/engine",
		forbidden: with(
			modulePath+"/internal/coordinator",
			modulePath+"/internal/remote",
			modulePath+"/internal/flightsql",
			modulePath+"/internal/normalize",
			modulePath+"/internal/middleware",
		),
		hint: "engine should depend on domain and ddl",
	},
	{
		sourcePrefix: modulePath + "/internal/normalize",
		forbidden: with(
			modulePath+"/internal/coordinator",
			modulePath+"/internal/engine",
			modulePath+"/internal/remote",
		),
		hint: "normalize works on Arrow tables from either engine",
	},
	{
		sourcePrefix: modulePath + "/internal/remote",
		forbidden: with(
			modulePath+"/internal/coordinator",
			modulePath+"/internal/engine",
			modulePath+"/internal/flightsql",
		),
		hint: "remote is a client and must not know the server or the local engine",
	},
	{
		sourcePrefix: modulePath + "/internal/flightsql",
		forbidden: with(
			modulePath+"/internal/coordinator",
			modulePath+"/internal/engine",
			modulePath+"/internal/remote",
		),
		hint: "flightsql serves a QueryExecutor and must not pick the engine",
	},
	{
		sourcePrefix: modulePath + "/internal/coordinator",
		forbidden: with(
			modulePath+"/internal/middleware",
			modulePath+"/internal/flightsql",
			modulePath+"/internal/config",
			modulePath+"/internal/manifest",
		),
		hint: "coordinator is configured through Options, not config or manifests",
	},
	{
		sourcePrefix: modulePath + "/internal/api",
		forbidden: []string{
			modulePath + "/cmd",
			modulePath + "/pkg/cli",
			modulePath + "/internal/engine",
			modulePath + "/internal/remote",
			modulePath + "/internal/flightsql",
			modulePath + "/internal/config",
		},
		hint: "api should depend on coordinator/domain/middleware",
	},
	{
		sourcePrefix: modulePath + "/internal/middleware",
		forbidden: with(
			modulePath+"/internal/coordinator",
			modulePath+"/internal/engine",
			modulePath+"/internal/remote",
		),
		hint: "middleware should depend on middleware-local packages",
	},
	{
		sourcePrefix: modulePath + "/internal/manifest",
		forbidden: with(
			modulePath+"/internal/coordinator",
			modulePath+"/internal/engine",
		),
		hint: "manifest hands sources to a Registrar",
	},
}

func TestImportBoundaries(t *testing.T) {
	root := repoRootDir(t)
	files := collectGoFiles(t, filepath.Join(root, "internal"))
	require.NotEmpty(t, files)

	violations := make([]string, 0)
	fset := token.NewFileSet()

	for _, file := range files {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}

		sourcePkg := packageImportPath(root, file)
		rule, ok := findRule(sourcePkg)
		if !ok {
			continue
		}

		parsed, parseErr := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		require.NoErrorf(t, parseErr, "parse imports for %s", file)

		for _, imp := range parsed.Imports {
			importPath := strings.Trim(imp.Path.Value, "\"")
			if !strings.HasPrefix(importPath, modulePath+"/") {
				continue
			}
			if violatesRule(importPath, rule.forbidden) {
				violations = append(violations,
					"governance: "+sourcePkg+" imports "+importPath+" via "+file+"; allowed direction: "+rule.hint,
				)
			}
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		t.Fatalf("%s", strings.Join(violations, "\n"))
	}
}

func TestTestutil_NotImportedByProductionCode(t *testing.T) {
	root := repoRootDir(t)
	fset := token.NewFileSet()

	for _, dir := range []string{"internal", "cmd", "pkg"} {
		for _, file := range collectGoFiles(t, filepath.Join(root, dir)) {
			if strings.HasSuffix(file, "_test.go") {
				continue
			}
			parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
			require.NoErrorf(t, err, "parse imports for %s", file)
			for _, imp := range parsed.Imports {
				require.NotEqualf(t, `"`+modulePath+`/internal/testutil"`, imp.Path.Value,
					"governance: %s imports testutil outside tests", file)
			}
		}
	}
}

func repoRootDir(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func collectGoFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), "_") {
			return filepath.SkipDir
		}
		if !d.IsDir() && strings.HasSuffix(path, ".go") {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func packageImportPath(root, file string) string {
	rel, err := filepath.Rel(root, filepath.Dir(file))
	if err != nil {
		return ""
	}
	return modulePath + "/" + filepath.ToSlash(rel)
}

func findRule(sourcePkg string) (layerRule, bool) {
	for _, rule := range rules {
		if hasPathPrefix(sourcePkg, rule.sourcePrefix) {
			return rule, true
		}
	}
	return layerRule{}, false
}

func violatesRule(importPath string, forbidden []string) bool {
	for _, prefix := range forbidden {
		if hasPathPrefix(importPath, prefix) {
			return true
		}
	}
	return false
}

func hasPathPrefix(value string, prefix string) bool {
	return value == prefix || strings.HasPrefix(value, prefix+"/")
}
