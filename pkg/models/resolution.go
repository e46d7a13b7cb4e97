package models

import "fmt"

// QualityTier maps a minimum frame height to a display label
type QualityTier struct {
	Name      string `json:"name"`
	MinHeight int    `json:"min_height"`
}

// Standard quality tiers, highest first
var (
	Tier4K    = QualityTier{Name: "4K", MinHeight: 2160}
	Tier2K    = QualityTier{Name: "2K", MinHeight: 1440}
	Tier1080p = QualityTier{Name: "1080p", MinHeight: 1080}
	Tier720p  = QualityTier{Name: "720p", MinHeight: 720}
	Tier480p  = QualityTier{Name: "480p", MinHeight: 480}
	Tier360p  = QualityTier{Name: "360p", MinHeight: 360}
	Tier240p  = QualityTier{Name: "240p", MinHeight: 240}
)

// QualityLadder returns all standard tiers ordered from highest to lowest
func QualityLadder() []QualityTier {
	return []QualityTier{
		Tier4K,
		Tier2K,
		Tier1080p,
		Tier720p,
		Tier480p,
		Tier360p,
		Tier240p,
	}
}

// QualityLabel returns the display label for a frame height.
// Heights below the lowest tier are labelled "<height>p".
func QualityLabel(height int) string {
	for _, tier := range QualityLadder() {
		if height >= tier.MinHeight {
			return tier.Name
		}
	}
	return fmt.Sprintf("%dp", height)
}

// ResolutionKey formats a width/height pair as "<width>x<height>"
func ResolutionKey(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}
