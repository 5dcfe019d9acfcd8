package ai

import (
	"sort"

	"detectserver/internal/model"
)

// NonMaxSuppression keeps the highest scoring box of every group of same-class boxes
// whose IoU exceeds iouThreshold. The result is ordered by descending confidence.
func NonMaxSuppression(detections []model.Detection, iouThreshold float64) []model.Detection {
	sorted := make([]model.Detection, len(detections))
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	suppressed := make([]bool, len(sorted))
	kept := make([]model.Detection, 0, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].ClassID != sorted[i].ClassID {
				continue
			}
			if sorted[i].Box.IoU(sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
