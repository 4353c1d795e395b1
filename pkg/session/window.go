package session

import "github.com/hollis/braid/internal/config"

// LimitTurns returns the transcript suffix containing at most limit
// conversational turns, where a turn starts at a user entry and runs through
// every following non-user entry. Counting is by user entries only, scanning
// from the tail. limit <= 0 means unlimited.
//
// When no trimming occurs (unlimited, or the transcript holds no more than
// limit user entries) the input slice is returned unchanged so callers can
// detect "no trim" by identity.
func LimitTurns(entries []Entry, limit int) []Entry {
	if limit <= 0 {
		return entries
	}

	total := 0
	for i := range entries {
		if entries[i].IsUserMessage() {
			total++
		}
	}
	if total <= limit {
		return entries
	}

	seen := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsUserMessage() {
			seen++
			if seen == limit {
				return entries[i:]
			}
		}
	}
	return entries
}

// DMHistoryLimit resolves the history limit that applies to a direct-message
// session key. It returns nil ("unspecified") when the key or config is
// absent, the key is not a DM, or the provider is unrecognized. A per-user
// override beats the provider's blanket dmHistoryLimit, and an explicit 0 at
// either level is a real value ("unlimited"), distinct from nil.
//
// An agent:<id>: prefix on the key is ignored for limit resolution.
func DMHistoryLimit(sessionKey string, cfg *config.Config) *int {
	if sessionKey == "" || cfg == nil {
		return nil
	}

	k := ParseKey(sessionKey)
	if !k.IsDM() {
		return nil
	}

	channel, ok := cfg.Channels.ByProvider(k.Provider)
	if !ok {
		return nil
	}

	if override, ok := channel.DMs[k.Identifier]; ok && override.HistoryLimit != nil {
		return override.HistoryLimit
	}
	return channel.DMHistoryLimit
}
