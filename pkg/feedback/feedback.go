// Package feedback extracts structured language corrections from model
// output text. Two annotation conventions coexist on the same transcript
// text: a delimited FEEDBACK block with labeled fields (tutor mode), and an
// emoji-prefixed pronunciation-tip line whose exemplar is the first
// bold-wrapped span (translation-practice mode).
package feedback

import (
	"strings"
)

// Type classifies a feedback item.
type Type string

const (
	TypeGrammar       Type = "grammar"
	TypePronunciation Type = "pronunciation"
	TypeVocabulary    Type = "vocabulary"
	TypeImprovement   Type = "improvement"
	TypeGeneral       Type = "general"
)

// Feedback is a structured correction extracted from model text.
type Feedback struct {
	Type        Type   `json:"type"`
	Original    string `json:"original,omitempty"`
	Correction  string `json:"correction"`
	Explanation string `json:"explanation,omitempty"`
}

const (
	startMarker = "### FEEDBACK ###"
	endMarker   = "### END FEEDBACK ###"

	// TipMarker introduces a pronunciation tip in translation-practice
	// responses.
	TipMarker = "💡 Pronunciation Tip:"
)

// Parse scans text for a delimited FEEDBACK block. It returns the
// conversational portion (text before the start marker) and the extracted
// record, if any.
//
// Fields are matched first-occurrence, case-insensitively, one per line. A
// record is emitted only when at least the Correction field is present.
// Missing markers, an unterminated block, or an incomplete block all degrade
// to "no feedback": the full text is returned as conversational and the
// record is nil.
func Parse(text string) (string, *Feedback) {
	start := strings.Index(text, startMarker)
	if start < 0 {
		return text, nil
	}

	rest := text[start+len(startMarker):]
	end := strings.Index(rest, endMarker)
	if end < 0 {
		// Unterminated block: no feedback extracted.
		return text, nil
	}

	conversational := strings.TrimSpace(text[:start])
	block := rest[:end]

	fb := &Feedback{Type: TypeGeneral}
	seen := map[string]bool{}
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		label, value, ok := splitField(line)
		if !ok || seen[label] {
			continue
		}
		seen[label] = true
		switch label {
		case "type":
			fb.Type = parseType(value)
		case "original":
			fb.Original = value
		case "correction":
			fb.Correction = value
		case "explanation":
			fb.Explanation = value
		}
	}

	if fb.Correction == "" {
		return conversational, nil
	}
	return conversational, fb
}

// splitField splits a "Label: value" line, lowercasing the label.
func splitField(line string) (string, string, bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	label := strings.ToLower(strings.TrimSpace(line[:idx]))
	value := strings.TrimSpace(line[idx+1:])
	switch label {
	case "type", "original", "correction", "explanation":
		return label, value, true
	}
	return "", "", false
}

func parseType(value string) Type {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "grammar":
		return TypeGrammar
	case "pronunciation":
		return TypePronunciation
	case "vocabulary":
		return TypeVocabulary
	}
	return TypeGeneral
}

// ParseTip extracts a pronunciation-practice tip. When the tip marker is
// present, the exemplar is the first bold-wrapped span anywhere in the text
// and the returned record carries type "improvement". Text is returned
// unchanged; the tip line is display text, not a hidden block.
func ParseTip(text string) *Feedback {
	idx := strings.Index(text, TipMarker)
	if idx < 0 {
		return nil
	}

	spans := BoldSpans(text)
	if len(spans) == 0 {
		return nil
	}

	tip := text[idx+len(TipMarker):]
	if nl := strings.IndexByte(tip, '\n'); nl >= 0 {
		tip = tip[:nl]
	}

	return &Feedback{
		Type:        TypeImprovement,
		Correction:  spans[0],
		Explanation: strings.TrimSpace(tip),
	}
}

// BoldSpans returns every **...** wrapped substring in order of appearance.
// The first span is the pronunciation exemplar.
func BoldSpans(text string) []string {
	var spans []string
	for {
		open := strings.Index(text, "**")
		if open < 0 {
			return spans
		}
		rest := text[open+2:]
		close := strings.Index(rest, "**")
		if close < 0 {
			return spans
		}
		if span := rest[:close]; span != "" {
			spans = append(spans, span)
		}
		text = rest[close+2:]
	}
}

// Segment is a run of display text, bold or plain.
type Segment struct {
	Text string
	Bold bool
}

// SplitBold splits text on the bold-markup pattern so each **word** span can
// be rendered as an independently clickable pronunciation trigger.
func SplitBold(text string) []Segment {
	var segs []Segment
	for {
		open := strings.Index(text, "**")
		if open < 0 {
			break
		}
		rest := text[open+2:]
		close := strings.Index(rest, "**")
		if close < 0 {
			break
		}
		if open > 0 {
			segs = append(segs, Segment{Text: text[:open]})
		}
		segs = append(segs, Segment{Text: rest[:close], Bold: true})
		text = rest[close+2:]
	}
	if text != "" {
		segs = append(segs, Segment{Text: text})
	}
	return segs
}
