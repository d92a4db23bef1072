package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"shadercomp/internal/elf"
	"shadercomp/internal/pipeline"
	"shadercomp/pkg/hash"
)

// Packager is the reference backend. It does not generate real machine code;
// it packages each stage's shader into a deterministic pseudo-ISA block and
// lays the blocks out exactly the way a full code generator would, so every
// caching and merging path can be driven end to end. Compiling the fragment
// and non-fragment halves separately and merging them reproduces the full
// compile byte for byte.
type Packager struct {
	logger *zap.Logger
}

func NewPackager(logger *zap.Logger) *Packager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packager{logger: logger}
}

func (p *Packager) Name() string { return "packager" }

// Analyze reports a usage digest per stage and flags every specialization
// constant as a global constant read by its stage.
func (p *Packager) Analyze(ctx context.Context, env *Environment, d *pipeline.GraphicsPipelineDescriptor) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := &Analysis{StageUsage: make(map[pipeline.Stage]hash.Hash)}
	for s := pipeline.StageVertex; s < pipeline.Stage(pipeline.GraphicsStageCount); s++ {
		info := d.StageInfo(s)
		if info == nil || info.Module == nil {
			continue
		}
		out.StageUsage[s] = stageDigest(s, info)
		if info.Module.UseSpecConstant || len(info.SpecConstants) > 0 {
			out.GlobalConstants = append(out.GlobalConstants, GlobalConstant{
				Name:  info.EntryPoint,
				Users: s.Mask(),
			})
		}
	}
	return out, nil
}

func (p *Packager) CompileGraphics(ctx context.Context, env *Environment, d *pipeline.GraphicsPipelineDescriptor, stages pipeline.StageMask) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var blocks []stageBlock
	for s := pipeline.StageVertex; s < pipeline.Stage(pipeline.GraphicsStageCount); s++ {
		if !stages.Has(s) {
			continue
		}
		info := d.StageInfo(s)
		if info == nil || info.Module == nil {
			return nil, fmt.Errorf("stage %s selected but not populated", s.Abbrev())
		}
		blocks = append(blocks, makeBlock(s, info))
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no stages selected")
	}

	// A compile that leaves the fragment stage out reserves its slot with a
	// placeholder entry symbol for the merge to splice at.
	placeholder := d.Fragment != nil && d.Fragment.Module != nil && !stages.Has(pipeline.StageFragment)

	im := buildImage(env.Target, blocks, placeholder, d.Options)
	data, err := im.Encode()
	if err != nil {
		return nil, err
	}
	env.Diagnostics = append(env.Diagnostics,
		fmt.Sprintf("packaged %d stage(s) for %s", len(blocks), env.Target))
	p.logger.Debug("packaged graphics pipeline",
		zap.Uint32("stages", uint32(stages)),
		zap.Int("size", len(data)))
	return data, nil
}

func (p *Packager) CompileCompute(ctx context.Context, env *Environment, d *pipeline.ComputePipelineDescriptor) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Compute.Module == nil {
		return nil, fmt.Errorf("compute stage not populated")
	}
	im := buildImage(env.Target, []stageBlock{makeBlock(pipeline.StageCompute, &d.Compute)}, false, d.Options)
	data, err := im.Encode()
	if err != nil {
		return nil, err
	}
	p.logger.Debug("packaged compute pipeline", zap.Int("size", len(data)))
	return data, nil
}

// stageBlock is one stage's contribution to the output image.
type stageBlock struct {
	stage  pipeline.Stage
	entry  string
	digest hash.Hash
}

func makeBlock(s pipeline.Stage, info *pipeline.ShaderStageInfo) stageBlock {
	return stageBlock{stage: s, entry: elf.EntrySymbol(s.Abbrev()), digest: stageDigest(s, info)}
}

// stageDigest folds everything that shapes a stage's generated code into one
// hash: the trimmed module content, the entry point and the specialization
// constant values.
func stageDigest(s pipeline.Stage, info *pipeline.ShaderStageInfo) hash.Hash {
	h := hash.New()
	h.WriteUint32(uint32(s))
	h.WriteHash(info.Module.CacheHash)
	h.WriteString(info.EntryPoint)
	for _, sc := range info.SpecConstants {
		h.WriteUint32(sc.ID)
		h.Write(sc.Value)
	}
	return h.Sum()
}

func buildImage(target TargetVersion, blocks []stageBlock, fragmentPlaceholder bool, opts pipeline.Options) *elf.Image {
	im := &elf.Image{}

	var text []byte
	var disasm, ir []byte
	meta := map[string]any{"compiler": "packager", "target": target.String()}
	hwStages := map[string]any{}
	meta["pipeline"] = map[string]any{"hardware_stages": hwStages}

	for _, b := range blocks {
		off := elf.AlignCode(uint64(len(text)))
		code := stageCode(b)
		text = append(text, make([]byte, off-uint64(len(text)))...)
		text = append(text, code...)

		im.Symbols = append(im.Symbols, elf.Symbol{
			Name:         b.entry,
			SectionIndex: 0,
			Value:        off,
			Size:         uint64(len(code)),
		})

		disasm = append(disasm, stageDisassembly(b)...)
		ir = append(ir, stageIR(b)...)
		hwStages[b.stage.Abbrev()] = stageMetadata(b, len(code))
	}

	if fragmentPlaceholder {
		im.Symbols = append(im.Symbols, elf.Symbol{
			Name:         elf.FragmentEntrySymbol,
			SectionIndex: 0,
			Value:        elf.AlignCode(uint64(len(text))),
		})
	}

	im.Sections = append(im.Sections, elf.Section{Name: elf.SectionText, Data: text})
	if opts.IncludeDisassembly {
		im.Sections = append(im.Sections, elf.Section{Name: elf.SectionDisassembly, Data: disasm})
	}
	if opts.IncludeIR {
		im.Sections = append(im.Sections, elf.Section{Name: elf.SectionLLVMIR, Data: ir})
	}

	desc, err := elf.EncodeMetadata(meta)
	if err != nil {
		// The document is built from plain maps and scalars; encoding it
		// cannot fail.
		panic(err)
	}
	im.Notes = append(im.Notes, elf.Note{
		Type: elf.NoteTypeMetadata,
		Name: elf.NoteNameGPU,
		Desc: desc,
	})
	return im
}

// stageCode derives the stage's pseudo machine code from its digest. Length
// and content both vary with the digest so distinct shaders never collide.
func stageCode(b stageBlock) []byte {
	n := 0x40 + int(b.digest[0]%4)*0x10
	code := make([]byte, n)
	for i := range code {
		code[i] = b.digest[i%hash.Size] ^ byte(i) ^ byte(b.stage)*0x3b
	}
	return code
}

func stageDisassembly(b stageBlock) []byte {
	var out []byte
	out = append(out, b.entry...)
	out = append(out, ":\n"...)
	out = append(out, fmt.Sprintf("\ts_mov_b32 s0, 0x%08x\n", uint32(b.digest.Compact64()))...)
	out = append(out, fmt.Sprintf("\ts_lshl_b32 s1, s0, %d\n", b.digest[2]%16)...)
	if b.digest[3]%2 == 0 {
		out = append(out, "\tv_writelane_b32 v0, s0, 0\n"...)
	}
	out = append(out, "\ts_endpgm\n\n"...)
	return out
}

func stageIR(b stageBlock) []byte {
	return []byte(fmt.Sprintf("%s:\n\t; pseudo ir, digest %s\n\n", b.entry, b.digest.Hex()[:16]))
}

func stageMetadata(b stageBlock, codeSize int) map[string]any {
	scratch := int64(0)
	if b.digest[4]%4 == 0 {
		scratch = 1024
	}
	return map[string]any{
		"vgpr_count":          int64(16 + b.digest[5]%48),
		"vgpr_limit":          int64(256),
		"sgpr_count":          int64(8 + b.digest[6]%24),
		"sgpr_limit":          int64(104),
		"scratch_memory_size": scratch,
		"code_size":           int64(codeSize),
	}
}
