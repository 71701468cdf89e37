package configx

import "testing"

func TestResolverMergesRiptideSection(t *testing.T) {
	r := NewResolver()
	layers := map[int]*EngineConfigSpec{
		LayerGlobal: {
			Riptide: &RiptideConfigSection{
				Gate: &GateConfigSpec{MinWordCountForRaw: 120, ForceHeadlessDomains: []string{"a.example"}},
				Pool: &PoolConfigSpec{MaxInstances: 4},
			},
		},
		LayerSite: {
			Riptide: &RiptideConfigSection{
				Gate: &GateConfigSpec{MinWordCountForRaw: 200},
			},
		},
	}
	final := r.Resolve(layers)
	if final.Riptide == nil || final.Riptide.Gate == nil {
		t.Fatalf("expected riptide.gate to be present")
	}
	if final.Riptide.Gate.MinWordCountForRaw != 200 {
		t.Fatalf("expected site layer override got %d", final.Riptide.Gate.MinWordCountForRaw)
	}
	if final.Riptide.Pool == nil || final.Riptide.Pool.MaxInstances != 4 {
		t.Fatalf("expected global layer's pool section to survive when site layer doesn't set one")
	}
}

func TestResolverClonesRiptideSlices(t *testing.T) {
	r := NewResolver()
	global := &EngineConfigSpec{Riptide: &RiptideConfigSection{
		Gate: &GateConfigSpec{ForceHeadlessDomains: []string{"a.example"}},
	}}
	final := r.Resolve(map[int]*EngineConfigSpec{LayerGlobal: global})
	global.Riptide.Gate.ForceHeadlessDomains[0] = "mutated"
	if final.Riptide.Gate.ForceHeadlessDomains[0] == "mutated" {
		t.Fatalf("expected riptide gate slice to be cloned on resolve")
	}
}
