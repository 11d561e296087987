// Package quota enforces tiered daily URL limits and converts deliveries into
// accumulated points per client.
package quota

// Tier is a client's quota class.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// tierSpec fixes a tier's daily limit, points rate, and entry threshold.
type tierSpec struct {
	DailyLimit   int
	PointsPerURL int64
	MinPoints    int64
}

// tierTable is ordered from highest to lowest threshold for derivation.
var tierTable = []struct {
	Tier Tier
	Spec tierSpec
}{
	{TierPlatinum, tierSpec{DailyLimit: 300, PointsPerURL: 5, MinPoints: 10000}},
	{TierGold, tierSpec{DailyLimit: 200, PointsPerURL: 3, MinPoints: 5000}},
	{TierSilver, tierSpec{DailyLimit: 100, PointsPerURL: 2, MinPoints: 1000}},
	{TierBasic, tierSpec{DailyLimit: 50, PointsPerURL: 1, MinPoints: 0}},
}

// TierForPoints derives the tier from lifetime points. Pure: the same point
// total always maps to the same tier regardless of how it was reached.
func TierForPoints(points int64) Tier {
	for _, row := range tierTable {
		if points >= row.Spec.MinPoints {
			return row.Tier
		}
	}
	return TierBasic
}

func specFor(tier Tier) tierSpec {
	for _, row := range tierTable {
		if row.Tier == tier {
			return row.Spec
		}
	}
	return tierTable[len(tierTable)-1].Spec
}

// DailyLimit returns the tier's daily URL allowance.
func DailyLimit(tier Tier) int {
	return specFor(tier).DailyLimit
}

// PointsPerURL returns the tier's points accrual rate.
func PointsPerURL(tier Tier) int64 {
	return specFor(tier).PointsPerURL
}
