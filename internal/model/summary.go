package model

import (
	"fmt"
	"strings"
)

// SummaryEntry is the number of detections of one class.
type SummaryEntry struct {
	ClassID int    `json:"class_id"`
	Name    string `json:"name"`
	Count   int    `json:"count"`
}

// Summary counts detections per class, ordered by the first appearance of each class.
type Summary struct {
	Entries []SummaryEntry `json:"entries"`
}

// Summarize builds the per-class counts for a detection sequence.
func Summarize(detections []Detection, labels ClassLabels) Summary {
	index := make(map[int]int)
	var entries []SummaryEntry
	for _, d := range detections {
		if i, ok := index[d.ClassID]; ok {
			entries[i].Count++
			continue
		}
		index[d.ClassID] = len(entries)
		entries = append(entries, SummaryEntry{ClassID: d.ClassID, Name: labels.Name(d.ClassID), Count: 1})
	}
	return Summary{Entries: entries}
}

// Total returns the sum of all per-class counts.
func (s Summary) Total() int {
	total := 0
	for _, e := range s.Entries {
		total += e.Count
	}
	return total
}

// Empty reports whether nothing was detected.
func (s Summary) Empty() bool {
	return len(s.Entries) == 0
}

// Text renders the summary as "person × 2<sep>car × 1", or emptyText when nothing was detected.
func (s Summary) Text(separator, emptyText string) string {
	if s.Empty() {
		return emptyText
	}
	parts := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		parts = append(parts, fmt.Sprintf("%s × %d", e.Name, e.Count))
	}
	return strings.Join(parts, separator)
}
