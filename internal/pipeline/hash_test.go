package pipeline

import (
	"testing"

	"shadercomp/pkg/hash"
)

func testModule(seed string) *ShaderModule {
	return &ShaderModule{
		Hash:      hash.Of([]byte(seed)),
		CacheHash: hash.Of([]byte(seed + "-trimmed")),
		EntryPoints: map[string]Stage{
			"main": StageVertex,
		},
	}
}

func testDescriptor() *GraphicsPipelineDescriptor {
	return &GraphicsPipelineDescriptor{
		Vertex:   &ShaderStageInfo{Module: testModule("vs"), EntryPoint: "main"},
		Fragment: &ShaderStageInfo{Module: testModule("ps"), EntryPoint: "main"},
		VertexInput: VertexInputState{
			Bindings:   []VertexBinding{{Binding: 0, Stride: 16}},
			Attributes: []VertexAttribute{{Location: 0, Format: 44}},
		},
		InputAssembly: InputAssemblyState{Topology: 3},
		ColorBlend: ColorBlendState{
			Targets: []ColorTarget{{Format: 37, BlendEnable: true, ChannelWriteMask: 0xf}},
		},
		DebugName: "triangle",
	}
}

func TestGraphicsKeysPure(t *testing.T) {
	a := GraphicsKeys(testDescriptor())
	b := GraphicsKeys(testDescriptor())
	if a != b {
		t.Fatalf("identical descriptors produced different keys: %+v vs %+v", a, b)
	}
	if a.PipelineKey.IsZero() || a.CacheKey.IsZero() {
		t.Fatal("keys must not be zero")
	}
}

func TestDebugNameOnlyAffectsPipelineKey(t *testing.T) {
	a := GraphicsKeys(testDescriptor())

	d := testDescriptor()
	d.DebugName = "renamed"
	b := GraphicsKeys(d)

	if a.CacheKey != b.CacheKey {
		t.Fatal("debug name changed the cache key")
	}
	if a.PipelineKey == b.PipelineKey {
		t.Fatal("debug name did not change the pipeline key")
	}
}

func TestKeySensitivity(t *testing.T) {
	base := GraphicsKeys(testDescriptor())

	mutations := map[string]func(*GraphicsPipelineDescriptor){
		"shader content": func(d *GraphicsPipelineDescriptor) {
			d.Fragment.Module.CacheHash[0] ^= 1
		},
		"entry point": func(d *GraphicsPipelineDescriptor) {
			d.Vertex.EntryPoint = "main2"
		},
		"vertex stride": func(d *GraphicsPipelineDescriptor) {
			d.VertexInput.Bindings[0].Stride = 32
		},
		"topology": func(d *GraphicsPipelineDescriptor) {
			d.InputAssembly.Topology = 4
		},
		"blend enable": func(d *GraphicsPipelineDescriptor) {
			d.ColorBlend.Targets[0].BlendEnable = false
		},
		"device index": func(d *GraphicsPipelineDescriptor) {
			d.DeviceIndex = 1
		},
		"options": func(d *GraphicsPipelineDescriptor) {
			d.Options.ScalarBlockLayout = true
		},
	}
	for name, mutate := range mutations {
		d := testDescriptor()
		mutate(d)
		got := GraphicsKeys(d)
		if got.CacheKey == base.CacheKey {
			t.Errorf("%s: cache key unchanged after mutation", name)
		}
		if got.PipelineKey == base.PipelineKey {
			t.Errorf("%s: pipeline key unchanged after mutation", name)
		}
	}
}

func TestStageSplitKeysPartition(t *testing.T) {
	d := testDescriptor()
	usage := map[Stage]hash.Hash{
		StageVertex:   hash.Of([]byte("vs-usage")),
		StageFragment: hash.Of([]byte("ps-usage")),
	}
	keys := StageSplitKeys(d, usage)
	if keys.Fragment.IsZero() || keys.NonFragment.IsZero() {
		t.Fatal("both partitions active, both keys must be set")
	}

	// A fragment-only change must leave the non-fragment key alone.
	d2 := testDescriptor()
	d2.Fragment.Module.CacheHash[0] ^= 1
	keys2 := StageSplitKeys(d2, usage)
	if keys2.Fragment == keys.Fragment {
		t.Fatal("fragment key unchanged after fragment shader change")
	}
	if keys2.NonFragment != keys.NonFragment {
		t.Fatal("non-fragment key changed by a fragment-only mutation")
	}

	// Fragment-partition state stays out of the non-fragment key too.
	d3 := testDescriptor()
	d3.ColorBlend.Targets[0].Format = 99
	keys3 := StageSplitKeys(d3, usage)
	if keys3.Fragment == keys.Fragment {
		t.Fatal("fragment key unchanged after blend state change")
	}
	if keys3.NonFragment != keys.NonFragment {
		t.Fatal("non-fragment key affected by blend state")
	}
}

func TestStageSplitKeysEmptyPartition(t *testing.T) {
	d := testDescriptor()
	d.Vertex = nil
	keys := StageSplitKeys(d, nil)
	if !keys.NonFragment.IsZero() {
		t.Fatal("no non-fragment stages, key must be zero")
	}
	if keys.Fragment.IsZero() {
		t.Fatal("fragment stage present, key must be set")
	}

	d = testDescriptor()
	d.Fragment = nil
	keys = StageSplitKeys(d, nil)
	if !keys.Fragment.IsZero() {
		t.Fatal("no fragment stage, key must be zero")
	}
	if keys.NonFragment.IsZero() {
		t.Fatal("vertex stage present, key must be set")
	}
}

func TestUsageDigestFeedsSplitKeys(t *testing.T) {
	d := testDescriptor()
	a := StageSplitKeys(d, map[Stage]hash.Hash{StageFragment: hash.Of([]byte("u1"))})
	b := StageSplitKeys(d, map[Stage]hash.Hash{StageFragment: hash.Of([]byte("u2"))})
	if a.Fragment == b.Fragment {
		t.Fatal("fragment usage digest did not affect fragment key")
	}
	if a.NonFragment != b.NonFragment {
		t.Fatal("fragment usage digest leaked into non-fragment key")
	}
}
