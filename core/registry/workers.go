package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/botwarden/warden/core/ledger"
	"github.com/botwarden/warden/core/manifest"
	"github.com/botwarden/warden/core/probe"
	"github.com/botwarden/warden/core/store"
)

// RunProbeLoop sweeps all probeable agents every interval until ctx is
// cancelled. One sweep runs at a time; a slow sweep delays the next tick
// rather than stacking.
func (r *Registry) RunProbeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ProbeSweep(ctx); err != nil {
				r.logger.Error("probe sweep failed", "error", err)
			}
		}
	}
}

// ProbeSweep probes every active and provisional agent once, records each
// result, and appends the scored delta to the ledger. A provisional agent
// that passes its probe is promoted to active.
func (r *Registry) ProbeSweep(ctx context.Context) error {
	targets, provisional, err := r.probeTargets(ctx)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	results := r.prober.ProbeAll(ctx, targets)
	for _, result := range results {
		if result.Canceled {
			continue
		}
		if err := r.recordProbe(ctx, result); err != nil {
			r.logger.Error("record probe", "identity", result.Identity, "error", err)
			continue
		}
		if provisional[result.Identity] && result.Judgment.Outcome == probe.OutcomePass {
			if err := r.store.SetAgentStatus(ctx, result.Identity, store.AgentStatusActive); err != nil {
				r.logger.Error("promote agent", "identity", result.Identity, "error", err)
				continue
			}
			r.logger.Info("agent promoted", "identity", result.Identity)
		}
	}
	return nil
}

// probeTargets builds the sweep's target list from active and provisional
// agents, carrying each agent's declared model and latency bound out of its
// last verified manifest. Agents without a manifest are probed against
// their registered endpoint with no declared claims to contradict.
func (r *Registry) probeTargets(ctx context.Context) ([]probe.Target, map[string]bool, error) {
	provisional := make(map[string]bool)
	var targets []probe.Target
	for _, status := range []string{store.AgentStatusActive, store.AgentStatusProvisional} {
		agents, err := r.store.ListAgentsByStatus(ctx, status)
		if err != nil {
			return nil, nil, err
		}
		for _, agent := range agents {
			if agent.Banned || agent.Endpoint == "" {
				continue
			}
			target := probe.Target{Identity: agent.Identity, Endpoint: agent.Endpoint}
			if agent.ManifestJSON != "" {
				var m manifest.Manifest
				if err := json.Unmarshal([]byte(agent.ManifestJSON), &m); err == nil {
					target.DeclaredModel = m.ComputeClaims.APIModel
					target.DeclaredMaxLatencyMS = m.ComputeClaims.MaxLatencyMS
					if m.Endpoint != "" {
						target.Endpoint = m.Endpoint
					}
				}
			}
			if status == store.AgentStatusProvisional {
				provisional[agent.Identity] = true
			}
			targets = append(targets, target)
		}
	}
	return targets, provisional, nil
}

func (r *Registry) recordProbe(ctx context.Context, result probe.Result) error {
	at := r.now()
	err := r.store.RecordProbeResult(ctx, store.ProbeResult{
		ID:            result.ProbeID,
		Identity:      result.Identity,
		ProbeType:     result.ProbeType,
		Outcome:       string(result.Judgment.Outcome),
		LatencyMS:     result.LatencyMS,
		HonestyStatus: result.Judgment.HonestyStatus,
		CreatedAt:     at,
	})
	if err != nil {
		return err
	}
	return r.ledger.Append(ctx, ledger.Entry{
		Identity:     result.Identity,
		Delta:        result.Judgment.Delta,
		ReasonKind:   result.Judgment.Reason,
		ReasonDetail: result.Judgment.ReasonDetail,
		ProbeID:      result.ProbeID,
		Timestamp:    at,
	})
}
