package room

import "github.com/samber/lo"

// Palette is the fixed, ordered set of participant colors.
var Palette = [...]string{
	"#EF4444", // red
	"#F97316", // orange
	"#EAB308", // yellow
	"#22C55E", // green
	"#06B6D4", // cyan
	"#3B82F6", // blue
	"#8B5CF6", // violet
	"#EC4899", // pink
}

// pickColor returns the lowest-indexed palette color not used by members.
// Once every color is taken it falls back to Palette[len(members) % len(Palette)].
func pickColor(members map[string]*Participant) string {
	used := lo.SliceToMap(lo.Values(members), func(p *Participant) (string, struct{}) {
		return p.Color, struct{}{}
	})

	color, ok := lo.Find(Palette[:], func(c string) bool {
		_, taken := used[c]
		return !taken
	})
	if ok {
		return color
	}
	return Palette[len(members)%len(Palette)]
}
