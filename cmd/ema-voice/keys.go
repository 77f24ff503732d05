package main

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const livenessPoll = 100 * time.Millisecond

// parseToggleKey maps a key name such as "ctrl-t" to the byte a raw terminal
// delivers for it.
func parseToggleKey(name string) (byte, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, prefix := range []string{"ctrl-", "ctrl+", "c-"} {
		letter, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}
		if len(letter) != 1 || letter[0] < 'a' || letter[0] > 'z' {
			return 0, fmt.Errorf("unsupported toggle key %q", name)
		}
		if letter[0] == 'c' {
			return 0, fmt.Errorf("toggle key %q would swallow interrupts", name)
		}
		return letter[0] - 'a' + 1, nil
	}
	return 0, fmt.Errorf("unsupported toggle key %q, expected ctrl-<letter>", name)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
