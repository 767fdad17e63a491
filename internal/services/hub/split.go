package hub

import (
	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

// SplitZones averages the LED stream into one colour per zone.
//
// LEDs are taken in zone.All order (left, top, right, bottom). The layout
// weights give each zone's share of the strip: when the stream length equals
// the total weight they are exact LED counts, otherwise they are applied
// proportionally. Each weight is clamped to [0, zone.MaxWeight]. Zones with no
// LEDs are absent from the frame.
func SplitZones(leds [][3]uint8, layout zone.Weights) zone.ColorFrame {
	frame := make(zone.ColorFrame, len(zone.All))

	total := layout.Total()
	n := len(leds)
	if total <= 0 || n == 0 {
		return frame
	}

	// Weights are clamped to zone.MaxWeight, so these products fit in uint64.
	count, sum := uint64(n), uint64(total)
	cumulative := uint64(0)
	for _, id := range zone.All {
		start := int(count * cumulative / sum)
		cumulative += uint64(layout.Weight(id))
		end := int(count * cumulative / sum)
		if end <= start {
			continue
		}
		frame[id] = average(leds[start:end])
	}
	return frame
}

func average(leds [][3]uint8) zone.RGB {
	var sum [3]int
	for _, led := range leds {
		sum[0] += int(led[0])
		sum[1] += int(led[1])
		sum[2] += int(led[2])
	}
	count := len(leds)
	return zone.RGB{
		R: uint8((sum[0] + count/2) / count),
		G: uint8((sum[1] + count/2) / count),
		B: uint8((sum[2] + count/2) / count),
	}
}
