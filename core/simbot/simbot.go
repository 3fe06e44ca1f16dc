// Package simbot implements a deliberately unreliable probe target for
// exercising the registry. Its misbehavior is an explicit weighted state
// machine under a seeded random source, so every adversarial scenario is
// reproducible.
package simbot

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

type Mode string

const (
	ModeHonest        Mode = "honest"
	ModeLatencyLie    Mode = "latency-lie"
	ModeSchemaDrift   Mode = "schema-drift"
	ModeContradiction Mode = "contradiction"
)

type weightedMode struct {
	mode   Mode
	weight float64
}

// transitions is the drift matrix, applied once per incoming probe. An
// honest agent mostly stays honest; once lying, it reverts with
// probability 0.6 and keeps its current lie with probability 0.4.
var transitions = map[Mode][]weightedMode{
	ModeHonest: {
		{ModeHonest, 0.80},
		{ModeLatencyLie, 0.10},
		{ModeSchemaDrift, 0.05},
		{ModeContradiction, 0.05},
	},
	ModeLatencyLie: {
		{ModeHonest, 0.60},
		{ModeLatencyLie, 0.40},
	},
	ModeSchemaDrift: {
		{ModeHonest, 0.60},
		{ModeSchemaDrift, 0.40},
	},
	ModeContradiction: {
		{ModeHonest, 0.60},
		{ModeContradiction, 0.40},
	},
}

type challenge struct {
	ProbeID   string `json:"probe_id"`
	ProbeType string `json:"probe_type"`
	Nonce     string `json:"nonce"`
}

type echoReply struct {
	Nonce string `json:"nonce"`
	Model string `json:"model,omitempty"`
}

// Agent is a simulated probe target. Zero value is not usable; construct
// with New.
type Agent struct {
	declaredModel        string
	declaredMaxLatencyMS int64

	mu   sync.Mutex
	mode Mode
	roll func() float64

	// sleep is replaceable in tests so latency lies do not slow the suite.
	sleep func(time.Duration)
}

func New(seed int64, declaredModel string, declaredMaxLatencyMS int64) *Agent {
	rng := rand.New(rand.NewSource(seed))
	return &Agent{
		declaredModel:        declaredModel,
		declaredMaxLatencyMS: declaredMaxLatencyMS,
		mode:                 ModeHonest,
		roll:                 rng.Float64,
		sleep:                time.Sleep,
	}
}

func (a *Agent) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// step advances the drift state machine one transition and returns the
// mode governing the current response.
func (a *Agent) step() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	roll := a.roll()
	var cumulative float64
	for _, next := range transitions[a.mode] {
		cumulative += next.weight
		if roll < cumulative {
			a.mode = next.mode
			break
		}
	}
	return a.mode
}

// Handler answers echo probes according to the current drift mode.
func (a *Agent) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c challenge
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			http.Error(w, "bad challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch a.step() {
		case ModeLatencyLie:
			// Blow the declared latency bound, then answer correctly.
			a.sleep(time.Duration(a.declaredMaxLatencyMS+250) * time.Millisecond)
			_ = json.NewEncoder(w).Encode(echoReply{Nonce: c.Nonce, Model: a.declaredModel})
		case ModeSchemaDrift:
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case ModeContradiction:
			_ = json.NewEncoder(w).Encode(echoReply{Nonce: c.Nonce, Model: a.declaredModel + "-turbo"})
		default:
			_ = json.NewEncoder(w).Encode(echoReply{Nonce: c.Nonce, Model: a.declaredModel})
		}
	})
}
