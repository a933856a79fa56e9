package jobdispatch

import (
	"fmt"
)

// Category selects the queue, and therefore the worker goroutine, that runs a
// job. The set of categories is fixed at compile time.
type Category uint8

const (
	// General is for work without specific thread requirements.
	General Category = iota
	// Asset is for asset loading and decoding. Keeping it on one worker
	// avoids disk thrashing.
	Asset
	// Audio is for audio mixing and streaming.
	Audio
	// Render is for command buffer recording and other renderer work.
	Render

	numCategories = iota
)

// NumCategories is the number of job categories, and of worker goroutines.
const NumCategories = numCategories

// Categories returns every valid Category, in ascending order.
func Categories() []Category {
	return []Category{General, Asset, Audio, Render}
}

// Valid returns true if c is one of the defined categories.
func (c Category) Valid() bool {
	return c < numCategories
}

// String returns a human-readable representation of the category.
func (c Category) String() string {
	switch c {
	case General:
		return "General"
	case Asset:
		return "Asset"
	case Audio:
		return "Audio"
	case Render:
		return "Render"
	default:
		return fmt.Sprintf("Category(%d)", uint8(c))
	}
}
