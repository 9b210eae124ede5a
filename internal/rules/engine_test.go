package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeRules(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "substitutions.rules")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}
	return path
}

func TestEnginePhraseAndSedRules(t *testing.T) {
	t.Parallel()

	path := writeRules(t, `
# phrase
pull request => PR
# sed, case-insensitive by default
s/\bwhisper\s*puma\b/WhisperPuma/g
`)

	engine, err := NewEngine(path, 30, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	output, err := engine.Apply("whisper puma pull request")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if output != "WhisperPuma PR" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestEnginePhraseRespectsWordBoundaries(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(writeRules(t, "go => Go\n"), 30, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	output, _ := engine.Apply("go ahead and google it")
	if output != "Go ahead and google it" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestEngineIteratesUntilStable(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(writeRules(t, "a => b\nb => c\n"), 5, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	output, _ := engine.Apply("a")
	if output != "c" {
		t.Fatalf("expected c, got %q", output)
	}
}

func TestEngineStopsAtLoopLimit(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(writeRules(t, "s/x/xx/\n"), 3, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	output, _ := engine.Apply("x")
	if output != "xxxx" {
		t.Fatalf("expected three expansions, got %q", output)
	}
}

func TestEnginePhraseStartingWithS(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(writeRules(t, "solid complaint => SOLID-compliant\n"), 30, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	output, _ := engine.Apply("solid complaint plan")
	if output != "SOLID-compliant plan" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestEngineMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(filepath.Join(t.TempDir(), "absent.rules"), 30, nil)
	if err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}
	if engine.Len() != 0 {
		t.Fatalf("expected no rules, got %d", engine.Len())
	}
	output, _ := engine.Apply("unchanged")
	if output != "unchanged" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestEngineReloadsChangedFile(t *testing.T) {
	t.Parallel()

	path := writeRules(t, "alpha => one\n")
	engine, err := NewEngine(path, 30, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if out, _ := engine.Apply("alpha"); out != "one" {
		t.Fatalf("unexpected output before reload: %q", out)
	}

	if err := os.WriteFile(path, []byte("alpha => two\n"), 0o600); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes failed: %v", err)
	}
	if out, _ := engine.Apply("alpha"); out != "two" {
		t.Fatalf("expected reloaded rule, got %q", out)
	}

	// A broken edit keeps the last good rules.
	if err := os.WriteFile(path, []byte("not-a-rule\n"), 0o600); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	later := future.Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes failed: %v", err)
	}
	if out, _ := engine.Apply("alpha"); out != "two" {
		t.Fatalf("expected previous rules after bad edit, got %q", out)
	}
}

func TestEngineRejectsInvalidFileAtStartup(t *testing.T) {
	t.Parallel()

	if _, err := NewEngine(writeRules(t, "not-a-rule\n"), 30, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEngineSupportsParserExtension(t *testing.T) {
	t.Parallel()

	path := writeRules(t, "prefix:Hello=>Howdy\n")
	parsers := append([]LineParser{prefixParser{}}, defaultLineParsers()...)
	engine, err := NewEngineWithParsers(path, 5, nil, parsers)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	output, _ := engine.Apply("hello world")
	if output != "Howdy world" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestSedRuleWithoutGlobalReplacesFirstMatchOnly(t *testing.T) {
	t.Parallel()

	rule, err := sedParser{}.Parse(`s/(f)oo/${1}ar/`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	output, changed := rule.Apply("foo foo")
	if !changed || output != "far foo" {
		t.Fatalf("unexpected output: %q changed=%v", output, changed)
	}
}

func TestSedRuleCaseSensitiveFlag(t *testing.T) {
	t.Parallel()

	rule, err := sedParser{}.Parse(`s|API|api|I`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, changed := rule.Apply("the Api"); changed {
		t.Fatalf("case-sensitive rule must not match different case")
	}
}

func TestSedRuleEscapedDelimiter(t *testing.T) {
	t.Parallel()

	rule, err := sedParser{}.Parse(`s/and\/or/or/g`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if output, _ := rule.Apply("this and/or that"); output != "this or that" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestParseSedRuleUnsupportedFlag(t *testing.T) {
	t.Parallel()

	if _, err := (sedParser{}).Parse(`s/foo/bar/x`); err == nil {
		t.Fatalf("expected unsupported flag error")
	}
}

func TestParseRulesUnsupportedLine(t *testing.T) {
	t.Parallel()

	_, err := ParseRules("not-a-rule")
	if err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected line-numbered error, got %v", err)
	}
}

type prefixParser struct{}

func (prefixParser) CanParse(line string) bool {
	return strings.HasPrefix(line, "prefix:")
}

func (prefixParser) Parse(line string) (Rule, error) {
	from, to, ok := strings.Cut(strings.TrimPrefix(line, "prefix:"), "=>")
	if !ok {
		return nil, fmt.Errorf("invalid prefix rule")
	}
	return arrowParser{}.Parse(from + " => " + to)
}
