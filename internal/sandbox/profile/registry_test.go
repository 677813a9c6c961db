package profile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	appErr "coderunner/pkg/errors"
)

const testLanguages = `
version: 1
languages:
  - id: python
    name: Python
    version: "3"
    sourceFile: solution.py
    runCmd: python3 {src}
    defaultLimits:
      cpuTimeMs: 2000
  - id: java
    name: Java
    sourceFile: Solution.java
    entryPointPattern: 'public\s+class\s+(\w+)'
    compileCmd: javac {src}
    runCmd: java -cp {dir} {class}
    timeMultiplier: 2
`

func TestLoadAndResolve(t *testing.T) {
	reg, err := Load([]byte(testLanguages))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	py, err := reg.Resolve("Python")
	if err != nil {
		t.Fatalf("resolve python: %v", err)
	}
	if py.Compiled() {
		t.Fatalf("python should not compile")
	}
	if py.DefaultLimits.CPUTimeMs != 2000 {
		t.Fatalf("unexpected default limits: %+v", py.DefaultLimits)
	}
	java, err := reg.Resolve("java")
	if err != nil {
		t.Fatalf("resolve java: %v", err)
	}
	if !java.Compiled() || java.TimeMultiplier != 2 {
		t.Fatalf("unexpected java profile: %+v", java)
	}
	if got := reg.IDs(); len(got) != 2 || got[0] != "java" || got[1] != "python" {
		t.Fatalf("unexpected ids: %v", got)
	}
}

func TestResolveUnknownLanguage(t *testing.T) {
	reg, err := Load([]byte(testLanguages))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, id := range []string{"", "cobol"} {
		if _, err := reg.Resolve(id); !appErr.Is(err, appErr.UnsupportedLanguage) {
			t.Fatalf("resolve %q: expected UnsupportedLanguage, got %v", id, err)
		}
	}
}

func TestSourceName(t *testing.T) {
	reg, err := Load([]byte(testLanguages))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	java, _ := reg.Resolve("java")
	cases := []struct {
		name     string
		source   string
		wantFile string
		wantStem string
	}{
		{name: "public class", source: "public class Main { }", wantFile: "Main.java", wantStem: "Main"},
		{name: "no public class", source: "class Hidden { }", wantFile: "Solution.java", wantStem: "Solution"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			file, stem := java.SourceName(tc.source)
			if file != tc.wantFile || stem != tc.wantStem {
				t.Fatalf("got (%s, %s), want (%s, %s)", file, stem, tc.wantFile, tc.wantStem)
			}
		})
	}
	py, _ := reg.Resolve("python")
	if file, stem := py.SourceName("public class X"); file != "solution.py" || stem != "solution" {
		t.Fatalf("python source name changed: %s %s", file, stem)
	}
}

func TestNewRegistryValidation(t *testing.T) {
	cases := []struct {
		name  string
		langs []LanguageProfile
	}{
		{name: "missing id", langs: []LanguageProfile{{RunCmd: "x", SourceFile: "a"}}},
		{name: "missing run", langs: []LanguageProfile{{ID: "a", SourceFile: "a"}}},
		{name: "missing source", langs: []LanguageProfile{{ID: "a", RunCmd: "x"}}},
		{name: "duplicate", langs: []LanguageProfile{{ID: "a", RunCmd: "x", SourceFile: "a"}, {ID: "A", RunCmd: "x", SourceFile: "a"}}},
		{name: "bad pattern", langs: []LanguageProfile{{ID: "a", RunCmd: "x", SourceFile: "a", EntryPointPattern: "("}}},
		{name: "pattern without group", langs: []LanguageProfile{{ID: "a", RunCmd: "x", SourceFile: "a", EntryPointPattern: "class"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(tc.langs); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadRejectsVersionAndUnknownFields(t *testing.T) {
	if _, err := Load([]byte("version: 2\nlanguages: [{id: a, runCmd: x, sourceFile: a}]\n")); err == nil {
		t.Fatalf("expected version error")
	}
	if _, err := Load([]byte("version: 1\nlanguages: [{id: a, runCmd: x, sourceFile: a, bogus: 1}]\n")); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := Load([]byte("version: 1\nlanguages: []\n")); err == nil {
		t.Fatalf("expected empty list error")
	}
}

func TestRegistryIsNotMutatedByCallers(t *testing.T) {
	langs := []LanguageProfile{{ID: "sh", RunCmd: "/bin/sh {src}", SourceFile: "main.sh", Env: []string{"A=1"}}}
	reg, err := NewRegistry(langs)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	langs[0].Env[0] = "A=2"
	got, _ := reg.Resolve("sh")
	got.Env[0] = "A=3"
	again, _ := reg.Resolve("sh")
	if again.Env[0] != "A=1" {
		t.Fatalf("registry entry was mutated: %v", again.Env)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Resolve("sh"); err != nil {
				t.Errorf("concurrent resolve: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestShippedLanguageFileLoads(t *testing.T) {
	path := filepath.Join("..", "..", "..", "configs", "languages.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("language file not found: %v", err)
	}
	reg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load shipped languages: %v", err)
	}
	for _, id := range []string{"c", "cpp", "go", "java", "python", "nodejs", "ruby", "csharp", "fsharp", "vb"} {
		if _, err := reg.Resolve(id); err != nil {
			t.Fatalf("resolve %s: %v", id, err)
		}
	}
}
