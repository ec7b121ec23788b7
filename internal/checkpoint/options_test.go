package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptions_SavepointNeverBecomesUnaligned(t *testing.T) {
	opts := New(TypeSavepoint, "s3://bucket/savepoint-1", true, true, 0)
	assert.False(t, opts.Unaligned, "unaligned implies type is checkpoint")
	assert.Equal(t, NoTimeout, opts.Timeout)
	assert.True(t, opts.NeedsAlignment())
}

func TestOptions_CheckpointWithZeroTimeoutIsUnaligned(t *testing.T) {
	opts := New(TypeCheckpoint, "file:///tmp/chk-1", true, true, 0)
	assert.True(t, opts.Unaligned)
	assert.False(t, opts.NeedsAlignment())
	assert.False(t, opts.Timeoutable())
}

func TestOptions_CheckpointWithPositiveTimeoutIsAligned(t *testing.T) {
	opts := New(TypeCheckpoint, "file:///tmp/chk-2", true, true, 5*time.Second)
	assert.False(t, opts.Unaligned)
	assert.True(t, opts.NeedsAlignment())
	assert.True(t, opts.Timeoutable())
}

func TestOptions_UnalignedDisabledForcesNoTimeoutSentinel(t *testing.T) {
	opts := New(TypeCheckpoint, "file:///tmp/chk-3", true, false, 5*time.Second)
	assert.False(t, opts.Unaligned)
	assert.Equal(t, NoTimeout, opts.Timeout)
	assert.False(t, opts.Timeoutable())
	assert.True(t, opts.NeedsAlignment())
}

func TestOptions_ExactlyOnceFalseNeverNeedsAlignment(t *testing.T) {
	opts := New(TypeCheckpoint, "file:///tmp/chk-4", false, true, 0)
	assert.False(t, opts.NeedsAlignment())
}

func TestOptions_NeedsAlignmentInvariantHoldsAcrossPermutations(t *testing.T) {
	for _, typ := range []Type{TypeCheckpoint, TypeSavepoint} {
		for _, exactlyOnce := range []bool{true, false} {
			for _, unalignedEnabled := range []bool{true, false} {
				for _, timeout := range []time.Duration{0, 5 * time.Second} {
					opts := New(typ, "loc", exactlyOnce, unalignedEnabled, timeout)
					want := exactlyOnce && (opts.Type == TypeSavepoint || !opts.Unaligned)
					assert.Equal(t, want, opts.NeedsAlignment(), "type=%v exactlyOnce=%v unalignedEnabled=%v timeout=%v", typ, exactlyOnce, unalignedEnabled, timeout)
					if opts.Unaligned {
						assert.Equal(t, TypeCheckpoint, opts.Type, "unaligned must imply checkpoint type")
					}
				}
			}
		}
	}
}
