package pager

// Config holds the tunables spec §6 lists as "configuration
// constants". Defaults are set by DefaultConfig, overridable by
// cmd/swapctl's flags, matching the teacher's plain-constructor-params
// style (NewBufMgr(bits, nodeMax, pbm, lastPageZeroId)) rather than a
// separate file/env config loader.
type Config struct {
	// PageSize is the size in bytes of one VM page.
	PageSize int

	// SWBNPages is SWB_NPAGES: must be a power of two. It dictates
	// the per-device stripe width (DMMAX = 2*SWBNPages). It does not
	// set the metadata bucket size: meta.Pages is a fixed constant.
	SWBNPages int64

	// NSwapDev is NSWAPDEV: the maximum number of concurrently active
	// swap devices.
	NSwapDev int

	// MaxPageoutCluster is MAX_PAGEOUT_CLUSTER: the largest number of
	// pages putpages will batch into one allocation request.
	MaxPageoutCluster int64

	// NSwapLowat is the slack (in pages) SwapOff requires in free swap
	// beyond the departing device's block count. NSwapHiwat is not read
	// by the pager. Neither drives the almost-full/full indicators,
	// which follow allocation failures only.
	NSwapLowat int64
	NSwapHiwat int64

	// NSwBuf bounds the read/sync-write/async-write reservoirs: each
	// is sized from a fraction of this total, per spec §4.5 step 2's
	// "bounded in [1, nswbuf/2]".
	NSwBuf int

	// DiagnosticWait is the interval at which GetPages, while blocked
	// waiting for a read reservoir slot, logs a "still waiting"
	// diagnostic. It never cancels the wait.
	DiagnosticWait int64 // seconds
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:          4096,
		SWBNPages:         8,
		NSwapDev:          4,
		MaxPageoutCluster: 16,
		NSwapLowat:        128,
		NSwapHiwat:        512,
		NSwBuf:            256,
		DiagnosticWait:    20,
	}
}

// DMMAX returns the fixed interleave stripe size in pages, derived
// from SWBNPages per spec §6's init(): DMMAX = SWB_NPAGES*2.
func (c Config) DMMAX() int64 {
	return c.SWBNPages * 2
}

// DMMAXMask returns ~(DMMAX-1), used to test "same device stripe" via
// (a^b)&DMMAXMask == 0.
func (c Config) DMMAXMask() int64 {
	return ^(c.DMMAX() - 1)
}
