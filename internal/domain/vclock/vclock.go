// Package vclock computes playback positions from a stored base offset and an
// optional "advancing since" timestamp. Nothing ticks: any process can rebuild
// the position of an entry from two numbers and the current wall clock.
package vclock

// Position returns the effective position in milliseconds.
// When playingSinceMs is nil the entry is frozen at progressMs.
// The result is clamped to [0, durationMs]; a non-positive duration pins it at 0.
func Position(progressMs int64, playingSinceMs *int64, durationMs, nowMs int64) int64 {
	pos := progressMs
	if playingSinceMs != nil {
		if elapsed := nowMs - *playingSinceMs; elapsed > 0 {
			pos += elapsed
		}
	}
	return Clamp(pos, durationMs)
}

// Clamp bounds positionMs to [0, durationMs].
func Clamp(positionMs, durationMs int64) int64 {
	if durationMs < 0 {
		durationMs = 0
	}
	switch {
	case positionMs < 0:
		return 0
	case positionMs > durationMs:
		return durationMs
	}
	return positionMs
}

// NearEnd reports whether positionMs is within marginMs of the end.
// Entries without a known duration never complete.
func NearEnd(durationMs, positionMs, marginMs int64) bool {
	if durationMs <= 0 {
		return false
	}
	return durationMs-positionMs <= marginMs
}

// Remaining returns the time left until the end, never negative.
func Remaining(durationMs, positionMs int64) int64 {
	if durationMs <= 0 || positionMs >= durationMs {
		return 0
	}
	return durationMs - positionMs
}
