package enrichment

import (
	"math"

	"blog-monitor/pkg/content"
)

// wordsPerMinute by technical density; denser posts are read more slowly
var wordsPerMinute = map[int]int{
	1: 220,
	2: 180,
	3: 100,
}

const defaultDensity = 2

// ReadingTime estimates minutes to read text at the pace for density.
// Unknown densities read at the medium pace. The result is at least one
// minute; halves round to even.
func ReadingTime(text string, density int) int {
	wpm, ok := wordsPerMinute[density]
	if !ok {
		wpm = wordsPerMinute[defaultDensity]
	}
	minutes := int(math.RoundToEven(float64(content.WordCount(text)) / float64(wpm)))
	return max(1, minutes)
}
