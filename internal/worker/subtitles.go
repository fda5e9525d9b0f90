package worker

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/guntupalli09/videotools-sub000/internal/model"
)

// FormatSRT renders segments as SubRip text.
func FormatSRT(segments []model.Segment) string {
	var b strings.Builder
	for i, s := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, formatTimestamp(s.Start, ","), formatTimestamp(s.End, ","), cueText(s))
	}
	return b.String()
}

// FormatVTT renders segments as WebVTT text.
func FormatVTT(segments []model.Segment) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, s := range segments {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			formatTimestamp(s.Start, "."), formatTimestamp(s.End, "."), cueText(s))
	}
	return b.String()
}

func cueText(s model.Segment) string {
	if s.Speaker != "" {
		return fmt.Sprintf("[%s] %s", s.Speaker, s.Text)
	}
	return s.Text
}

func formatTimestamp(seconds float64, msSep string) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds*1000 + 0.5)
	h := ms / 3600000
	m := (ms % 3600000) / 60000
	s := (ms % 60000) / 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, msSep, ms%1000)
}

// ParseSubtitles reads SRT or WebVTT cues. Index lines, the WEBVTT header and
// cue settings are skipped; anything without a timing line is ignored.
func ParseSubtitles(r io.Reader) ([]model.Segment, error) {
	var segments []model.Segment
	var current *model.Segment

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\uFEFF"))

		switch {
		case line == "":
			if current != nil {
				segments = append(segments, *current)
				current = nil
			}
		case strings.Contains(line, "-->"):
			start, end, err := parseTimingLine(line)
			if err != nil {
				return nil, err
			}
			if current != nil {
				segments = append(segments, *current)
			}
			current = &model.Segment{Start: start, End: end}
		case current != nil:
			if current.Text != "" {
				current.Text += "\n"
			}
			current.Text += line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtitle input: %w", err)
	}
	if current != nil {
		segments = append(segments, *current)
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("no subtitle cues found")
	}
	return segments, nil
}

func parseTimingLine(line string) (float64, float64, error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timing line: %q", line)
	}
	start, err := parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	// Drop VTT cue settings after the end timestamp.
	endRaw := strings.Fields(strings.TrimSpace(parts[1]))
	if len(endRaw) == 0 {
		return 0, 0, fmt.Errorf("invalid timing line: %q", line)
	}
	end, err := parseTimestamp(endRaw[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseTimestamp(ts string) (float64, error) {
	ts = strings.ReplaceAll(ts, ",", ".")
	fields := strings.Split(ts, ":")
	if len(fields) < 2 || len(fields) > 3 {
		return 0, fmt.Errorf("invalid timestamp: %q", ts)
	}

	var total float64
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp: %q", ts)
		}
		total = total*60 + v
	}
	return total, nil
}

const minCueDuration = 0.5

// FixSegments normalizes a cue list: sorts by start time, clamps negative
// times, resolves overlaps by pulling the earlier cue's end back, enforces a
// minimum duration, and drops empty cues.
func FixSegments(segments []model.Segment) []model.Segment {
	out := make([]model.Segment, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if s.Start < 0 {
			s.Start = 0
		}
		if s.End < s.Start+minCueDuration {
			s.End = s.Start + minCueDuration
		}
		s.Text = strings.TrimSpace(s.Text)
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	for i := 0; i < len(out)-1; i++ {
		if out[i].End > out[i+1].Start {
			out[i].End = out[i+1].Start
			if out[i].End < out[i].Start+minCueDuration {
				out[i].End = out[i].Start + minCueDuration
			}
		}
	}
	return out
}
