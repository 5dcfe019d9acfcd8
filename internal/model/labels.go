package model

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ClassLabels maps class ids to human-readable names. It is immutable once built
// and safe for concurrent reads.
type ClassLabels struct {
	names []string
}

// NewClassLabels builds a label table where the class id is the index into names.
func NewClassLabels(names []string) ClassLabels {
	copied := make([]string, len(names))
	copy(copied, names)
	return ClassLabels{names: copied}
}

// LoadClassLabels reads one class name per line. Blank lines are kept as
// placeholders so line numbers stay aligned with class ids.
func LoadClassLabels(path string) (ClassLabels, error) {
	file, err := os.Open(path)
	if err != nil {
		return ClassLabels{}, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer file.Close()

	var names []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		names = append(names, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return ClassLabels{}, fmt.Errorf("failed to read labels file: %w", err)
	}
	for len(names) > 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	if len(names) == 0 {
		return ClassLabels{}, fmt.Errorf("labels file %s is empty", path)
	}
	return ClassLabels{names: names}, nil
}

// Name returns the label for classID, or class_<id> when the id is unknown.
func (l ClassLabels) Name(classID int) string {
	if classID >= 0 && classID < len(l.names) && l.names[classID] != "" {
		return l.names[classID]
	}
	return fmt.Sprintf("class_%d", classID)
}

// Len returns the number of classes in the table.
func (l ClassLabels) Len() int {
	return len(l.names)
}

// COCOLabels is the 80-class COCO table used by the stock YOLOv8 weights.
func COCOLabels() ClassLabels {
	return NewClassLabels(cocoNames)
}

var cocoNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}
