package rules

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"dictamic/internal/domain"
)

type command struct {
	re      *regexp.Regexp
	replace func(match string) string
	list    bool
}

var ordinalWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

const ordinalPattern = `one|two|three|four|five|six|seven|eight|nine|ten`

// Multi-word phrases run first so "exclamation point" never reads as "point".
var commands = []command{
	literal(`new paragraph`, "\n\n", false),
	literal(`new line`, "\n", false),
	literal(`numbered list`, "\n", true),
	literal(`bullet point`, "\n- ", true),
	symbol(`exclamation (?:mark|point)`, "!"),
	symbol(`question mark`, "?"),
	symbol(`full stop`, "."),
	{
		re:      regexp.MustCompile(`(?i)[ \t]*\b(?:point|item)[ \t]+(` + ordinalPattern + `|\d+)\b[ \t,:.]*`),
		replace: pointMarker,
		list:    true,
	},
	literal(`bullet`, "\n- ", true),
	symbol(`semicolon`, ";"),
	symbol(`period`, "."),
	symbol(`comma`, ","),
	symbol(`colon`, ":"),
}

// literal commands restructure the text and swallow surrounding separators.
func literal(phrase string, out string, list bool) command {
	re := regexp.MustCompile(`(?i)[ \t]*\b` + phrase + `\b[ \t,:]*`)
	return command{re: re, replace: func(string) string { return out }, list: list}
}

// symbol commands attach to the preceding word.
func symbol(phrase string, out string) command {
	re := regexp.MustCompile(`(?i)[ \t]*\b` + phrase + `\b`)
	return command{re: re, replace: func(string) string { return out }}
}

var pointRe = regexp.MustCompile(`(?i)(` + ordinalPattern + `|\d+)\b`)

func pointMarker(match string) string {
	n, ok := ordinalValue(pointRe.FindString(match))
	if !ok {
		return match
	}
	return "\n" + strconv.Itoa(n) + ". "
}

func ordinalValue(word string) (int, bool) {
	lower := strings.ToLower(word)
	if n, ok := ordinalWords[lower]; ok {
		return n, true
	}
	n, err := strconv.Atoi(lower)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

var (
	ordinalAfterBoundary = regexp.MustCompile(`(?i)(^|[.?!:][ \t]+|\n[ \t]*)(` + ordinalPattern + `)\b[ \t,:.]*`)
	spaceBeforePunct     = regexp.MustCompile(`[ \t]+([,.?!:;])`)
	repeatedTerminal     = regexp.MustCompile(`([.?!])[ \t]*[.?!,;:]+`)
	repeatedSeparator    = regexp.MustCompile(`[,;:][ \t]*([.?!,;:])`)
	leadingPunct         = regexp.MustCompile(`^[,;:.?!]+[ \t]*`)
	excessBlankLines     = regexp.MustCompile(`\n{3,}`)
	danglingMarker       = regexp.MustCompile(`(?:^|\n)[ \t]*(?:-|\d+\.)[ \t]*$`)
	capitalizable        = regexp.MustCompile(`(?m)(^(?:- |\d+\. )?|[.?!][ \t]+)(\p{Ll})`)
	trailingSeparators   = regexp.MustCompile(`[ \t]*[,;]+$`)
)

var fillers = map[string]struct{}{
	"um": {}, "umm": {}, "uh": {}, "uhh": {}, "erm": {},
}

// Format turns a raw transcript into insertion-ready text. With spoken
// commands disabled it only trims. Format(Format(x).Text) == Format(x).Text.
func Format(raw string, spokenCommands bool) domain.FormattedText {
	text := strings.TrimSpace(norm.NFC.String(raw))
	if !spokenCommands || text == "" {
		return domain.FormattedText{Text: text}
	}

	// Fillers go first: dropping one must not reveal a command phrase later.
	text = stripFillers(text)

	priority := false
	listIntent := false
	for _, cmd := range commands {
		if !cmd.re.MatchString(text) {
			continue
		}
		priority = true
		if cmd.list {
			listIntent = true
		}
		text = cmd.re.ReplaceAllStringFunc(text, cmd.replace)
	}

	if listIntent {
		text = promoteOrdinals(text)
	}

	return domain.FormattedText{Text: cleanup(text), CommandPriority: priority}
}

func promoteOrdinals(text string) string {
	return ordinalAfterBoundary.ReplaceAllStringFunc(text, func(match string) string {
		parts := ordinalAfterBoundary.FindStringSubmatch(match)
		n, ok := ordinalValue(parts[2])
		if !ok {
			return match
		}
		boundary := parts[1]
		marker := strconv.Itoa(n) + ". "
		switch {
		case boundary == "":
			return marker
		case strings.HasPrefix(boundary, "\n"):
			return "\n" + marker
		default:
			return strings.TrimRight(boundary, " \t") + "\n" + marker
		}
	})
}

// cleanup runs the tidy passes to a fixed point so a second Format is a no-op.
func cleanup(text string) string {
	for i := 0; i < 8; i++ {
		next := terminate(capitalize(tidy(text)))
		if next == text {
			break
		}
		text = next
	}
	return text
}

func stripFillers(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		words := strings.Fields(line)
		kept := words[:0]
		for _, w := range words {
			core := strings.TrimRight(w, ",.?!;:")
			if _, ok := fillers[strings.ToLower(core)]; ok {
				// "um." still ends the sentence.
				if tail := strings.TrimLeft(w[len(core):], ","); tail != "" && len(kept) > 0 {
					kept[len(kept)-1] += tail
				}
				continue
			}
			kept = append(kept, w)
		}
		lines[i] = strings.Join(kept, " ")
	}
	return strings.Join(lines, "\n")
}

func tidy(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		line = spaceBeforePunct.ReplaceAllString(line, "$1")
		line = repeatedTerminal.ReplaceAllString(line, "$1")
		line = repeatedSeparator.ReplaceAllString(line, "$1")
		line = leadingPunct.ReplaceAllString(line, "")
		lines[i] = strings.TrimSpace(line)
	}

	text = strings.Join(lines, "\n")
	text = excessBlankLines.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	for danglingMarker.MatchString(text) {
		text = strings.TrimSpace(danglingMarker.ReplaceAllString(text, ""))
	}
	return text
}

func capitalize(text string) string {
	upper := cases.Upper(language.Und)
	return capitalizable.ReplaceAllStringFunc(text, func(match string) string {
		parts := capitalizable.FindStringSubmatch(match)
		return parts[1] + upper.String(parts[2])
	})
}

func terminate(text string) string {
	text = trailingSeparators.ReplaceAllString(text, "")
	if text == "" {
		return text
	}
	switch text[len(text)-1] {
	case '.', '?', '!', ':':
		return text
	}
	return text + "."
}
