package worker

import (
	"strings"
	"testing"

	"github.com/guntupalli09/videotools-sub000/internal/model"
)

func TestFormatSRT(t *testing.T) {
	segments := []model.Segment{
		{Start: 0, End: 2.5, Text: "Hello"},
		{Start: 3661.042, End: 3663, Text: "World", Speaker: "Alice"},
	}

	got := FormatSRT(segments)
	want := "1\n00:00:00,000 --> 00:00:02,500\nHello\n\n" +
		"2\n01:01:01,042 --> 01:01:03,000\n[Alice] World\n\n"
	if got != want {
		t.Errorf("FormatSRT mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestFormatVTT(t *testing.T) {
	got := FormatVTT([]model.Segment{{Start: 1.5, End: 3, Text: "Hi"}})
	want := "WEBVTT\n\n00:00:01.500 --> 00:00:03.000\nHi\n\n"
	if got != want {
		t.Errorf("FormatVTT mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestParseSRT(t *testing.T) {
	input := `1
00:00:00,000 --> 00:00:02,500
Hello

2
00:00:03,000 --> 00:00:05,000
Two
lines
`
	segments, err := ParseSubtitles(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Start != 0 || segments[0].End != 2.5 || segments[0].Text != "Hello" {
		t.Errorf("bad first segment: %+v", segments[0])
	}
	if segments[1].Text != "Two\nlines" {
		t.Errorf("multi-line text not preserved: %q", segments[1].Text)
	}
}

func TestParseVTT(t *testing.T) {
	input := `WEBVTT

00:01.000 --> 00:02.000 align:start position:10%
Short form

01:00:00.000 --> 01:00:01.500
Long form
`
	segments, err := ParseSubtitles(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].Start != 1 || segments[0].End != 2 {
		t.Errorf("mm:ss timestamps misparsed: %+v", segments[0])
	}
	if segments[1].Start != 3600 || segments[1].End != 3601.5 {
		t.Errorf("hh:mm:ss timestamps misparsed: %+v", segments[1])
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := []model.Segment{
		{Start: 0, End: 2, Text: "First"},
		{Start: 2.5, End: 4.25, Text: "Second"},
	}

	parsed, err := ParseSubtitles(strings.NewReader(FormatSRT(original)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(parsed) != len(original) {
		t.Fatalf("expected %d segments, got %d", len(original), len(parsed))
	}
	for i := range original {
		if parsed[i].Start != original[i].Start || parsed[i].End != original[i].End || parsed[i].Text != original[i].Text {
			t.Errorf("segment %d changed: %+v != %+v", i, parsed[i], original[i])
		}
	}
}

func TestParseRejectsEmptyInput(t *testing.T) {
	if _, err := ParseSubtitles(strings.NewReader("just some text\nwith no cues\n")); err == nil {
		t.Error("expected error for input without cues")
	}
}

func TestParseRejectsBadTimestamp(t *testing.T) {
	input := "1\nnot --> timestamps\nText\n"
	if _, err := ParseSubtitles(strings.NewReader(input)); err == nil {
		t.Error("expected error for malformed timing line")
	}
}

func TestFixSegmentsSortsAndResolvesOverlap(t *testing.T) {
	segments := []model.Segment{
		{Start: 5, End: 8, Text: "second"},
		{Start: 0, End: 6, Text: "first"},
	}

	fixed := FixSegments(segments)
	if len(fixed) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(fixed))
	}
	if fixed[0].Text != "first" || fixed[1].Text != "second" {
		t.Errorf("segments not sorted by start: %+v", fixed)
	}
	if fixed[0].End > fixed[1].Start {
		t.Errorf("overlap not resolved: end=%f next start=%f", fixed[0].End, fixed[1].Start)
	}
}

func TestFixSegmentsDropsEmptyAndClamps(t *testing.T) {
	segments := []model.Segment{
		{Start: -1, End: 2, Text: "clamped"},
		{Start: 3, End: 4, Text: "   "},
		{Start: 5, End: 5.1, Text: "short"},
	}

	fixed := FixSegments(segments)
	if len(fixed) != 2 {
		t.Fatalf("expected empty cue to be dropped, got %d segments", len(fixed))
	}
	if fixed[0].Start != 0 {
		t.Errorf("negative start not clamped: %f", fixed[0].Start)
	}
	if fixed[1].End-fixed[1].Start < minCueDuration {
		t.Errorf("minimum duration not enforced: %+v", fixed[1])
	}
}
