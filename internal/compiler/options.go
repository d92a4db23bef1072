package compiler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"shadercomp/internal/cache"
	"shadercomp/pkg/hash"
)

// Options is the parsed per-runtime option set.
type Options struct {
	CacheMode cache.Mode
	CacheDir  string

	// EnableSplitCache allows fragment and non-fragment halves of a
	// graphics pipeline to be compiled and cached independently.
	EnableSplitCache bool

	// TrimDebugInfo strips debug instructions from shader modules before
	// hashing and compilation.
	TrimDebugInfo bool

	// ForceLoopUnrollCount is handed through to the backend unmodified.
	ForceLoopUnrollCount int

	raw []string
}

// DefaultOptions returns the option set used when no overrides are given.
func DefaultOptions() *Options {
	return &Options{
		CacheMode:        cache.ModeRuntime,
		EnableSplitCache: true,
		TrimDebugInfo:    true,
	}
}

// nonEffectingOptions lists options that never change compiled output:
// cache placement, dump switches and log redirection. They are excluded
// from the fingerprint so runtimes differing only in these stay compatible.
var nonEffectingOptions = map[string]struct{}{
	"-shader-cache-mode": {},
	"-shader-cache-dir":  {},
	"-enable-dumps":      {},
	"-dump-dir":          {},
	"-enable-outs":       {},
	"-enable-errs":       {},
	"-log-file-dbgs":     {},
	"-log-file-outs":     {},
	"-executable-name":   {},
}

func optionName(opt string) string {
	if i := strings.IndexByte(opt, '='); i >= 0 {
		return opt[:i]
	}
	return opt
}

// Fingerprint hashes the effecting subset of an option list as a
// canonicalized set: sorted and deduplicated, so argument reordering or
// repetition does not change the result.
func Fingerprint(opts []string) hash.Hash {
	effecting := make([]string, 0, len(opts))
	seen := make(map[string]struct{}, len(opts))
	for _, opt := range opts {
		if _, skip := nonEffectingOptions[optionName(opt)]; skip {
			continue
		}
		if _, dup := seen[opt]; dup {
			continue
		}
		seen[opt] = struct{}{}
		effecting = append(effecting, opt)
	}
	sort.Strings(effecting)

	h := hash.New()
	for _, opt := range effecting {
		h.WriteString(opt)
		h.Write([]byte{0})
	}
	return h.Sum()
}

// ParseOptions parses "-name=value" option strings. Unknown options are
// tolerated (they still participate in the fingerprint); malformed values
// fail with ErrInvalidConfiguration.
func ParseOptions(opts []string) (*Options, error) {
	out := DefaultOptions()
	out.raw = append([]string(nil), opts...)

	for _, opt := range opts {
		name := optionName(opt)
		value := ""
		if i := strings.IndexByte(opt, '='); i >= 0 {
			value = opt[i+1:]
		}

		var err error
		switch name {
		case "-shader-cache-mode":
			var mode int
			if mode, err = strconv.Atoi(value); err == nil {
				switch mode {
				case 0:
					out.CacheMode = cache.ModeDisabled
				case 1:
					out.CacheMode = cache.ModeRuntime
				case 2, 3:
					out.CacheMode = cache.ModePersistent
				default:
					err = fmt.Errorf("mode %d out of range", mode)
				}
			}
		case "-shader-cache-dir":
			out.CacheDir = value
		case "-enable-split-cache":
			out.EnableSplitCache, err = strconv.ParseBool(value)
		case "-trim-debug-info":
			out.TrimDebugInfo, err = strconv.ParseBool(value)
		case "-force-loop-unroll-count":
			out.ForceLoopUnrollCount, err = strconv.Atoi(value)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: option %q: %v", ErrInvalidConfiguration, opt, err)
		}
	}
	return out, nil
}

// Fingerprint returns the option set's compatibility fingerprint.
func (o *Options) Fingerprint() hash.Hash {
	return Fingerprint(o.raw)
}
