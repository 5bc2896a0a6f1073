package abuse

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"oraguard/config"
)

// Automated-looking inputs: pure numbers, "test"-style tokens, a lone
// letter. Repeated-character runs are detected in code below because RE2
// has no backreferences.
var automatedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^test\d*$`),
	regexp.MustCompile(`^\d+$`),
	regexp.MustCompile(`(?i)^[a-z]$`),
}

const (
	highFrequencyPenalty = 2
	repetitionPenalty    = 2
	shortMessagePenalty  = 1
	patternPenalty       = 1

	repetitionSample = 5
	shortMessageLen  = 3
	shortMessageMin  = 4

	postBanDecay = 3
	passiveDecay = 0.5
)

// SuspicionScorer accumulates a bounded per-user score from independent
// heuristics over a short history of recent messages and targets.
type SuspicionScorer struct {
	store *stateStore
	cfg   *config.SuspicionConfig
}

func NewSuspicionScorer(store *stateStore, cfg *config.SuspicionConfig) *SuspicionScorer {
	return &SuspicionScorer{store: store, cfg: cfg}
}

// Score evaluates one message and returns the updated score. All heuristic
// deltas are summed into one increase and applied as a single net mutation.
func (s *SuspicionScorer) Score(userID int64, message, targetKey string, now time.Time) float64 {
	var result float64

	s.store.update(userID, func(st *userState) {
		var increase float64

		// High frequency: messages inside the trailing window, this one included.
		cutoff := now.Add(-s.cfg.Window)
		kept := st.recentTimestamps[:0]
		for _, ts := range st.recentTimestamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		st.recentTimestamps = append(kept, now)
		if len(st.recentTimestamps) > s.cfg.MaxMessagesPerWindow {
			increase += highFrequencyPenalty
		}

		// Repetition: the same question to the same oracle five times in a
		// row. The same question to different oracles is normal usage.
		st.recentMessages = appendCapped(st.recentMessages, message)
		st.recentTargets = appendCapped(st.recentTargets, targetKey)
		if identicalFold(lastN(st.recentMessages, repetitionSample)) &&
			identical(lastN(st.recentTargets, repetitionSample)) {
			increase += repetitionPenalty
		}

		// Mostly-empty inputs.
		short := 0
		for _, m := range lastN(st.recentMessages, repetitionSample) {
			if utf8.RuneCountInString(m) < shortMessageLen {
				short++
			}
		}
		if short >= shortMessageMin {
			increase += shortMessagePenalty
		}

		if isAutomated(strings.TrimSpace(message)) {
			increase += patternPenalty
		}

		st.messageCount++

		// Lazy recovery: the first evaluation after a ban has fully elapsed
		// clears the ban and rewards the cooldown with a fixed decay.
		banExpired := !st.bannedSince.IsZero() && now.Sub(st.bannedSince) >= s.cfg.BanDuration
		if banExpired {
			st.bannedSince = time.Time{}
			st.score -= postBanDecay
			if st.score < 0 {
				st.score = 0
			}
		}

		st.score += increase
		if st.score > s.cfg.MaxScore {
			st.score = s.cfg.MaxScore
		}
		if st.score < 0 {
			st.score = 0
		}

		// Slow forgiveness for sustained good behavior. Skipped when the
		// post-ban decay already applied this round.
		if increase == 0 && st.score > 0 && !banExpired {
			st.score -= passiveDecay
			if st.score < 0 {
				st.score = 0
			}
		}

		result = st.score
	})

	return result
}

func appendCapped(history []string, v string) []string {
	history = append(history, v)
	if len(history) > historyCap {
		history = history[len(history)-historyCap:]
	}
	return history
}

func lastN(history []string, n int) []string {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// identicalFold reports whether vs has at least repetitionSample entries
// that are all case-insensitively equal.
func identicalFold(vs []string) bool {
	if len(vs) < repetitionSample {
		return false
	}
	for _, v := range vs[1:] {
		if !strings.EqualFold(v, vs[0]) {
			return false
		}
	}
	return true
}

func identical(vs []string) bool {
	if len(vs) < repetitionSample {
		return false
	}
	for _, v := range vs[1:] {
		if v != vs[0] {
			return false
		}
	}
	return true
}

func isAutomated(message string) bool {
	if message == "" {
		return false
	}
	for _, p := range automatedPatterns {
		if p.MatchString(message) {
			return true
		}
	}
	return isRepeatedRune(message)
}

// isRepeatedRune reports whether the message is one character repeated,
// e.g. "aaaa" or "！！！！".
func isRepeatedRune(s string) bool {
	var first rune
	count := 0
	for _, r := range s {
		count++
		if count == 1 {
			first = r
			continue
		}
		if r != first {
			return false
		}
	}
	return count >= 2
}
