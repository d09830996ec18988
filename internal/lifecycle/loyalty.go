package lifecycle

// Tier is a loyalty level reached at Min miles.
type Tier struct {
	Name string `json:"name"`
	Min  int    `json:"min"`
}

// Tiers in ascending order of Min.
var Tiers = []Tier{
	{Name: "Bronze", Min: 0},
	{Name: "Silver", Min: 3600},
	{Name: "Gold", Min: 8000},
	{Name: "Ruby", Min: 15000},
	{Name: "Diamond", Min: 20000},
	{Name: "Platinum", Min: 25000},
}

// TierFor returns the highest tier reached with miles and the tier after
// it. ok is false at the top tier.
func TierFor(miles int) (current, next Tier, ok bool) {
	current = Tiers[0]
	idx := 0
	for i, t := range Tiers {
		if miles >= t.Min {
			current, idx = t, i
		}
	}
	if idx+1 < len(Tiers) {
		return current, Tiers[idx+1], true
	}
	return current, Tier{}, false
}

// Standing is a user's loyalty position.
type Standing struct {
	Miles   int     `json:"miles"`
	Tier    Tier    `json:"tier"`
	Next    *Tier   `json:"next,omitempty"`
	ToNext  int     `json:"milesToNext"`
	Percent float64 `json:"percent"` // through the current tier, 0-100
}

// StandingFor computes the standing for a mile balance.
func StandingFor(miles int) Standing {
	cur, next, ok := TierFor(miles)
	s := Standing{Miles: miles, Tier: cur, Percent: 100}
	if ok {
		s.Next = &next
		s.ToNext = next.Min - miles
		s.Percent = float64(miles-cur.Min) / float64(next.Min-cur.Min) * 100
	}
	return s
}
