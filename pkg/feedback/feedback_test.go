package feedback

import (
	"reflect"
	"testing"
)

func TestParse_FullBlock(t *testing.T) {
	text := "Nice try!\n### FEEDBACK ###\nType: Grammar\nOriginal: X\nCorrection: Y\nExplanation: Z\n### END FEEDBACK ###"

	conv, fb := Parse(text)
	if conv != "Nice try!" {
		t.Errorf("conversational = %q, want %q", conv, "Nice try!")
	}
	if fb == nil {
		t.Fatal("expected feedback record")
	}
	want := &Feedback{Type: TypeGrammar, Original: "X", Correction: "Y", Explanation: "Z"}
	if !reflect.DeepEqual(fb, want) {
		t.Errorf("feedback = %+v, want %+v", fb, want)
	}
}

func TestParse_NoMarkers(t *testing.T) {
	text := "Just a friendly chat, nothing to correct."
	conv, fb := Parse(text)
	if conv != text {
		t.Errorf("conversational = %q, want full input", conv)
	}
	if fb != nil {
		t.Errorf("feedback = %+v, want nil", fb)
	}
}

func TestParse_UnterminatedBlock(t *testing.T) {
	text := "Hello!\n### FEEDBACK ###\nType: Grammar\nCorrection: Y"
	conv, fb := Parse(text)
	if fb != nil {
		t.Errorf("feedback = %+v, want nil for unterminated block", fb)
	}
	if conv != text {
		t.Errorf("conversational = %q, want full input", conv)
	}
}

func TestParse_MissingCorrection(t *testing.T) {
	text := "Hi\n### FEEDBACK ###\nType: Grammar\nOriginal: X\n### END FEEDBACK ###"
	_, fb := Parse(text)
	if fb != nil {
		t.Errorf("feedback = %+v, want nil when correction missing", fb)
	}
}

func TestParse_CaseInsensitiveFirstMatch(t *testing.T) {
	text := "ok\n### FEEDBACK ###\ntype: Vocabulary\nCORRECTION: first\nCorrection: second\n### END FEEDBACK ###"
	_, fb := Parse(text)
	if fb == nil {
		t.Fatal("expected feedback record")
	}
	if fb.Type != TypeVocabulary {
		t.Errorf("type = %q, want vocabulary", fb.Type)
	}
	if fb.Correction != "first" {
		t.Errorf("correction = %q, want first match", fb.Correction)
	}
}

func TestParse_UnknownTypeFallsBackToGeneral(t *testing.T) {
	text := "ok\n### FEEDBACK ###\nType: Style\nCorrection: Y\n### END FEEDBACK ###"
	_, fb := Parse(text)
	if fb == nil {
		t.Fatal("expected feedback record")
	}
	if fb.Type != TypeGeneral {
		t.Errorf("type = %q, want general", fb.Type)
	}
}

func TestParseTip(t *testing.T) {
	text := "Good translation! 💡 Pronunciation Tip: stress the second syllable of **amigo** when you say it."

	fb := ParseTip(text)
	if fb == nil {
		t.Fatal("expected tip record")
	}
	if fb.Type != TypeImprovement {
		t.Errorf("type = %q, want improvement", fb.Type)
	}
	if fb.Correction != "amigo" {
		t.Errorf("correction = %q, want amigo", fb.Correction)
	}
}

func TestParseTip_NoMarker(t *testing.T) {
	if fb := ParseTip("great job with **amigo** today"); fb != nil {
		t.Errorf("tip = %+v, want nil without marker", fb)
	}
}

func TestBoldSpans_SingleExemplar(t *testing.T) {
	spans := BoldSpans("I like **serendipity** today")
	if len(spans) != 1 || spans[0] != "serendipity" {
		t.Errorf("spans = %v, want [serendipity]", spans)
	}
}

func TestBoldSpans_FirstOfMany(t *testing.T) {
	spans := BoldSpans("**uno** and **dos** and **tres**")
	if len(spans) != 3 {
		t.Fatalf("spans = %v, want 3", spans)
	}
	if spans[0] != "uno" {
		t.Errorf("first span = %q, want uno", spans[0])
	}
}

func TestBoldSpans_Unclosed(t *testing.T) {
	if spans := BoldSpans("this **never closes"); spans != nil {
		t.Errorf("spans = %v, want nil", spans)
	}
}

func TestSplitBold(t *testing.T) {
	segs := SplitBold("try saying **hola** to a friend")
	want := []Segment{
		{Text: "try saying "},
		{Text: "hola", Bold: true},
		{Text: " to a friend"},
	}
	if !reflect.DeepEqual(segs, want) {
		t.Errorf("segments = %+v, want %+v", segs, want)
	}
}
