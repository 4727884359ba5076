package blackboard

// Index helpers
//
// Runs and rounds are indexed in Redis ZSETs so they can be listed in order:
// - agora:{instance}:runs holds run IDs scored by start time in milliseconds
// - agora:{instance}:run:{run_id}:rounds holds round keys scored by round number

// RoundScore converts a round number to a ZSET score.
func RoundScore(round int) float64 {
	return float64(round)
}

// RoundFromScore converts a ZSET score back to a round number.
func RoundFromScore(score float64) int {
	return int(score)
}

// RunScore converts a run's start time to a ZSET score.
func RunScore(startedAtMs int64) float64 {
	return float64(startedAtMs)
}
