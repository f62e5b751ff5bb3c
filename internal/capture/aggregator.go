package capture

import (
	"strings"
	"sync"
)

// aggregator keeps finalized fragments apart from the latest interim text
type aggregator struct {
	mu      sync.Mutex
	finals  []string
	interim string
}

func newAggregator() *aggregator {
	return &aggregator{}
}

func (a *aggregator) Add(fragment Fragment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := strings.TrimSpace(fragment.Text)
	if fragment.Final {
		if text != "" {
			a.finals = append(a.finals, text)
		}
		a.interim = ""
		return
	}
	a.interim = text
}

// Final is the finalized text, or the last interim text when nothing was
// finalized
func (a *aggregator) Final() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if joined := strings.Join(a.finals, " "); joined != "" {
		return joined
	}
	return a.interim
}

// Live is the display text: finalized text followed by the interim text
func (a *aggregator) Live() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	joined := strings.Join(a.finals, " ")
	switch {
	case a.interim == "":
		return joined
	case joined == "":
		return a.interim
	}
	return joined + " " + a.interim
}
