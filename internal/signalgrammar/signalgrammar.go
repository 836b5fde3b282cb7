// Package signalgrammar parses the tagged completion signals agents
// emit: <role-verb session="token">body</role-verb>. The grammar is
// intentionally narrow — exactly nine known tag names, one attribute —
// so this is a small hand-written lexer rather than a general
// XML/HTML parser. A tag with extra attributes or a nested tag of the
// same name is rejected, not tolerated.
package signalgrammar

import "strings"

// Tag is one of the nine recognized role-verb signal names.
type Tag string

const (
	TaskDone        Tag = "task-done"
	TestsDone       Tag = "tests-done"
	ReviewApproved  Tag = "review-approved"
	ReviewRejected  Tag = "review-rejected"
	FixDone         Tag = "fix-done"
	UIPlan          Tag = "ui-plan"
	UIFixDone       Tag = "ui-fix-done"
	RobotPlan       Tag = "robot-plan"
	RobotFixDone    Tag = "robot-fix-done"
)

var knownTags = map[Tag]bool{
	TaskDone: true, TestsDone: true, ReviewApproved: true, ReviewRejected: true,
	FixDone: true, UIPlan: true, UIFixDone: true, RobotPlan: true, RobotFixDone: true,
}

// Signal is one parsed, well-formed tagged block.
type Signal struct {
	Tag     Tag
	Session string
	Body    string
}

// Find scans output for the first well-formed occurrence of any tag
// in wanted, in the order those tags appear in the text (not the
// order of wanted) — first well-formed match wins. It returns
// ok=false if no tag in wanted appears well-formed.
func Find(output string, wanted ...Tag) (Signal, bool) {
	want := make(map[Tag]bool, len(wanted))
	for _, t := range wanted {
		want[t] = true
	}

	best := -1
	var bestSig Signal
	found := false

	for tag := range want {
		sig, idx, ok := findTag(output, tag)
		if !ok {
			continue
		}
		if !found || idx < best {
			best = idx
			bestSig = sig
			found = true
		}
	}
	return bestSig, found
}

// findTag locates the first well-formed occurrence of tag in output
// and returns its signal plus the byte offset of its opening "<", so
// callers comparing multiple tags can pick the earliest.
func findTag(output string, tag Tag) (Signal, int, bool) {
	open := "<" + string(tag)
	searchFrom := 0

	for {
		idx := strings.Index(output[searchFrom:], open)
		if idx == -1 {
			return Signal{}, 0, false
		}
		start := searchFrom + idx

		// Reject if the character right after the tag name is not
		// whitespace or '>' — that would mean we matched a longer tag
		// name by prefix (e.g. "fix-done" inside "fix-done-extra").
		afterName := start + len(open)
		if afterName >= len(output) || !(output[afterName] == ' ' || output[afterName] == '\t' || output[afterName] == '\n' || output[afterName] == '>') {
			searchFrom = start + 1
			continue
		}

		sig, consumed, ok := parseAt(output, start, tag)
		if ok {
			return sig, start, true
		}
		if consumed <= 0 {
			consumed = 1
		}
		searchFrom = start + consumed
	}
}

// parseAt attempts to parse one well-formed <tag session="...">body</tag>
// block starting exactly at output[start]. It returns how many bytes
// were consumed when parsing failed partway (so the caller can resume
// scanning past the malformed opening tag) and ok=true on success.
func parseAt(output string, start int, tag Tag) (Signal, int, bool) {
	rest := output[start:]

	gt := strings.IndexByte(rest, '>')
	if gt == -1 {
		return Signal{}, 0, false
	}
	openTag := rest[:gt+1] // "<tag ...>"

	session, ok := parseOpenTag(openTag, tag)
	if !ok {
		return Signal{}, len(openTag), false
	}

	closeTag := "</" + string(tag) + ">"
	bodyStart := gt + 1
	closeIdx := strings.Index(rest[bodyStart:], closeTag)
	if closeIdx == -1 {
		return Signal{}, len(openTag), false
	}
	body := rest[bodyStart : bodyStart+closeIdx]

	// Reject nested tags of the same name within the body. The whole
	// ambiguous block — through its last same-name closing tag — is
	// consumed so the inner occurrence can't be picked up as if it
	// were an independent, well-formed signal.
	nestedOpen := "<" + string(tag)
	if strings.Contains(body, nestedOpen) {
		lastClose := strings.LastIndex(rest[bodyStart:], closeTag)
		consumed := len(openTag)
		if lastClose != -1 {
			consumed = bodyStart + lastClose + len(closeTag)
		}
		return Signal{}, consumed, false
	}

	total := bodyStart + closeIdx + len(closeTag)
	return Signal{Tag: tag, Session: session, Body: body}, total, true
}

// parseOpenTag validates "<tag session=\"...\">" allowing only the
// single "session" attribute; anything else (extra attributes,
// malformed quoting) fails.
func parseOpenTag(openTag string, tag Tag) (string, bool) {
	inner := strings.TrimPrefix(openTag, "<"+string(tag))
	inner = strings.TrimSuffix(inner, ">")
	inner = strings.TrimSpace(inner)

	const prefix = `session="`
	if !strings.HasPrefix(inner, prefix) {
		return "", false
	}
	inner = inner[len(prefix):]

	endQuote := strings.IndexByte(inner, '"')
	if endQuote == -1 {
		return "", false
	}
	token := inner[:endQuote]

	// Anything after the closing quote must be only whitespace —
	// additional attributes are a hard rejection.
	trailing := strings.TrimSpace(inner[endQuote+1:])
	if trailing != "" {
		return "", false
	}

	return token, true
}

// Validate checks that sig's session attribute exactly matches
// expectedToken. It does not check the tag; callers select the
// expected tag when calling Find.
func Validate(sig Signal, expectedToken string) bool {
	return sig.Session == expectedToken
}

// AllTags returns every recognized tag name, for callers that want to
// scan for any valid signal regardless of which one is expected.
func AllTags() []Tag {
	tags := make([]Tag, 0, len(knownTags))
	for t := range knownTags {
		tags = append(tags, t)
	}
	return tags
}
