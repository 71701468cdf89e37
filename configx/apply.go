package configx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

func itoa64(v int64) string { return strconv.FormatInt(v, 10) }

// ApplyResult reports what a committed (or dry-run) apply produced.
type ApplyResult struct {
	Version   int64
	SimImpact *SimImpact
}

// VersionedStore keeps every applied EngineConfigSpec under a monotonically
// increasing version number, mirroring the teacher's append-only result
// aggregation: nothing is ever overwritten in place.
type VersionedStore struct {
	mu   sync.Mutex
	revs []*VersionedConfig
}

func NewVersionedStore() *VersionedStore {
	return &VersionedStore{}
}

func (s *VersionedStore) Head() (*VersionedConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.revs) == 0 {
		return nil, false
	}
	return s.revs[len(s.revs)-1], true
}

func (s *VersionedStore) Get(version int64) (*VersionedConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.revs {
		if r.Version == version {
			return r, true
		}
	}
	return nil, false
}

func (s *VersionedStore) append(spec *EngineConfigSpec, actor, diff string, parent int64) *VersionedConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &VersionedConfig{
		Version:     int64(len(s.revs)) + 1,
		Spec:        spec,
		Hash:        specHash(spec),
		AppliedAt:   time.Now().UTC(),
		Actor:       actor,
		Parent:      parent,
		DiffSummary: diff,
	}
	s.revs = append(s.revs, v)
	return v
}

// Applier runs a candidate spec through the simulator and, unless the call
// is a dry run, commits it as a new version. A rejected simulation can only
// be overridden with ApplyOptions.Force.
type Applier struct {
	store *VersionedStore
	sim   *Simulator
}

func NewApplier(store *VersionedStore, sim *Simulator) *Applier {
	return &Applier{store: store, sim: sim}
}

func (a *Applier) Apply(prev, candidate *EngineConfigSpec, opts ApplyOptions) (*ApplyResult, error) {
	impact := a.sim.Evaluate(prev, candidate)
	if !impact.Acceptable && !opts.Force {
		return nil, fmt.Errorf("configx: apply rejected by simulation: %s (new rules=%d)", impact.Reason, impact.NewBusinessRules)
	}
	if !impact.Acceptable && opts.Force {
		impact.Acceptable = true
	}

	if opts.DryRun {
		return &ApplyResult{Version: 0, SimImpact: impact}, nil
	}

	var parent int64
	if head, ok := a.store.Head(); ok {
		parent = head.Version
	}
	v := a.store.append(candidate, opts.Actor, diffSummary(prev, candidate), parent)
	return &ApplyResult{Version: v.Version, SimImpact: impact}, nil
}

// Rollback re-applies a historical version's spec as a brand new version;
// it never moves the head pointer backward, so history stays append-only.
func (a *Applier) Rollback(version int64, actor string) (*ApplyResult, error) {
	target, ok := a.store.Get(version)
	if !ok {
		return nil, fmt.Errorf("configx: no such version %d", version)
	}
	var prev *EngineConfigSpec
	if head, ok := a.store.Head(); ok {
		prev = head.Spec
	}
	impact := a.sim.Evaluate(prev, target.Spec)
	v := a.store.append(target.Spec, actor, fmt.Sprintf("rollback to v%d", version), mustHeadVersion(a.store))
	return &ApplyResult{Version: v.Version, SimImpact: impact}, nil
}

func mustHeadVersion(s *VersionedStore) int64 {
	if head, ok := s.Head(); ok {
		return head.Version
	}
	return 0
}

func diffSummary(prev, candidate *EngineConfigSpec) string {
	if prev == nil {
		return "initial apply"
	}
	return "spec updated"
}

// specHash gives every committed version a content fingerprint, mirroring
// the content-addressed cache's approach to identity over raw structural
// equality.
func specHash(spec *EngineConfigSpec) string {
	b, err := json.Marshal(spec)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
