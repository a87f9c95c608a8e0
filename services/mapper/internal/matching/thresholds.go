package matching

// Thresholds are the tuning constants of both resolvers. They were tuned
// empirically against the catalogs; keep them overridable rather than
// baked into the rules.
type Thresholds struct {
	// ContainMinLen is the length the shorter title must exceed for a
	// substring match to count as exact.
	ContainMinLen int
	// YearSimilarity is the exclusive floor for the year-gated similarity
	// rule.
	YearSimilarity float64
	// Similarity is the exclusive floor for the unfiltered similarity rule.
	Similarity float64

	WordWeight        float64
	DiceWeight        float64
	PartialWeight     float64
	EpisodeBoost      float64
	SeriesBoost       float64
	SeriesMinEpisodes int
	MoviePenalty      float64
	YearBoost         float64
	AlternateMin      float64
	EarlyStop         float64
	SeriesMargin      float64
	BestMin           float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ContainMinLen:  7,
		YearSimilarity: 0.5,
		Similarity:     0.6,

		WordWeight:        0.7,
		DiceWeight:        0.3,
		PartialWeight:     0.5,
		EpisodeBoost:      0.2,
		SeriesBoost:       0.1,
		SeriesMinEpisodes: 12,
		MoviePenalty:      0.3,
		YearBoost:         0.3,
		AlternateMin:      0.5,
		EarlyStop:         0.85,
		SeriesMargin:      0.2,
		BestMin:           0.4,
	}
}
