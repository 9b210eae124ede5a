// Package rules holds the transcript text transforms: user substitution
// rules loaded from disk and the spoken-command formatter.
package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Rule is one compiled substitution.
type Rule interface {
	Apply(input string) (output string, changed bool)
}

// LineParser parses one rules-file line into a Rule.
type LineParser interface {
	CanParse(line string) bool
	Parse(line string) (Rule, error)
}

// Engine applies user substitutions to raw transcripts. The rules file is
// re-read when its modification time changes, so edits apply to the next
// session without a restart. A file that fails to parse keeps the last good set.
type Engine struct {
	path      string
	loopLimit int
	parsers   []LineParser
	logger    *slog.Logger

	mu      sync.RWMutex
	rules   []Rule
	modTime time.Time
}

// NewEngine loads rules from path. A missing file yields an empty engine.
func NewEngine(path string, loopLimit int, logger *slog.Logger) (*Engine, error) {
	return NewEngineWithParsers(path, loopLimit, logger, defaultLineParsers())
}

func NewEngineWithParsers(path string, loopLimit int, logger *slog.Logger, parsers []LineParser) (*Engine, error) {
	if loopLimit <= 0 {
		loopLimit = 30
	}
	if len(parsers) == 0 {
		parsers = defaultLineParsers()
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		path:      strings.TrimSpace(path),
		loopLimit: loopLimit,
		parsers:   parsers,
		logger:    logger,
	}
	if _, err := e.reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// ParseRules compiles rules from text, for callers that do not use a file.
func ParseRules(contents string) ([]Rule, error) {
	return parseRules(contents, defaultLineParsers())
}

// Len reports how many rules are currently loaded.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Apply runs every rule repeatedly until the text stops changing or the
// loop limit is reached.
func (e *Engine) Apply(text string) (string, error) {
	if _, err := e.reload(); err != nil {
		e.logger.Warn("rules reload failed, keeping previous rules", "path", e.path, "error", err)
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	return applyRules(rules, text, e.loopLimit), nil
}

func applyRules(rules []Rule, text string, loopLimit int) string {
	if len(rules) == 0 {
		return text
	}
	result := text
	for i := 0; i < loopLimit; i++ {
		changed := false
		for _, rule := range rules {
			if next, ok := rule.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result
}

// reload re-reads the file if it changed. It reports whether rules were replaced.
func (e *Engine) reload() (bool, error) {
	if e.path == "" {
		return false, nil
	}

	info, err := os.Stat(e.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.mu.Lock()
			defer e.mu.Unlock()
			replaced := len(e.rules) > 0
			e.rules = nil
			e.modTime = time.Time{}
			return replaced, nil
		}
		return false, fmt.Errorf("failed to stat rules file %q: %w", e.path, err)
	}

	e.mu.RLock()
	unchanged := info.ModTime().Equal(e.modTime)
	e.mu.RUnlock()
	if unchanged {
		return false, nil
	}

	contents, err := os.ReadFile(e.path)
	if err != nil {
		return false, fmt.Errorf("failed to read rules file %q: %w", e.path, err)
	}
	rules, err := parseRules(string(contents), e.parsers)
	if err != nil {
		return false, fmt.Errorf("failed to parse rules file %q: %w", e.path, err)
	}

	e.mu.Lock()
	e.rules = rules
	e.modTime = info.ModTime()
	e.mu.Unlock()

	e.logger.Info("substitution rules loaded", "path", e.path, "count", len(rules))
	return true, nil
}

func parseRules(contents string, parsers []LineParser) ([]Rule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]Rule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var parsed Rule
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			rule, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			parsed = rule
			break
		}
		if parsed == nil {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
		rules = append(rules, parsed)
	}

	return rules, nil
}

func defaultLineParsers() []LineParser {
	return []LineParser{sedParser{}, arrowParser{}}
}

// arrowParser reads "spoken phrase => written form". Phrases that start or
// end with a word character only match on word boundaries.
type arrowParser struct{}

func (arrowParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (arrowParser) Parse(line string) (Rule, error) {
	from, to, ok := strings.Cut(line, "=>")
	if !ok {
		return nil, errors.New("invalid phrase rule")
	}
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("phrase rule source cannot be empty")
	}

	pattern := regexp.QuoteMeta(from)
	if isWordByte(from[0]) {
		pattern = `\b` + pattern
	}
	if isWordByte(from[len(from)-1]) {
		pattern += `\b`
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid phrase source: %w", err)
	}
	return phraseRule{re: re, replacement: to}, nil
}

type phraseRule struct {
	re          *regexp.Regexp
	replacement string
}

func (r phraseRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

// sedParser reads "s/pattern/replacement/flags" with any punctuation delimiter.
// Matching is case-insensitive unless the I flag is given.
type sedParser struct{}

func (sedParser) CanParse(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordByte(line[1]) && line[1] != ' ' && line[1] != '\t'
}

func (sedParser) Parse(line string) (Rule, error) {
	delim := line[1]

	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	ignoreCase := true
	global := false
	var mode strings.Builder
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i':
			ignoreCase = true
		case 'I':
			ignoreCase = false
		case 'g':
			global = true
		case 'm', 's':
			mode.WriteRune(flag)
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}
	if ignoreCase {
		mode.WriteByte('i')
	}
	if mode.Len() > 0 {
		pattern = "(?" + mode.String() + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return sedRule{re: re, replacement: replacement, global: global}, nil
}

type sedRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func (r sedRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			if c != delim {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == delim:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordByte(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '_'
}
