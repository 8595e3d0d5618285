// Package deltaplan implements the delta planner: a pure function that classifies how a file
// must be transported given its local and (possibly absent) cached remote fingerprint.
package deltaplan

import "github.com/kopi-dev/kopi/src/core"

// Plan classifies the transfer of local against remote (which may be nil, meaning the remote
// side has no known fingerprint for this path), per spec.md §4.3:
//
//	remote absent                      -> full
//	remote.whole_digest == local.whole  -> none
//	otherwise                          -> delta(Δ)
//
// Δ is the set of block indices that differ, or that fall past the end of remote's known
// blocks. The block-overlay wire protocol cannot express shrinkage or deletion (spec.md §9), so
// whenever local's block count is smaller than remote's, the plan always escalates to full
// rather than delta - this is a hard invariant, not an optimisation choice.
func Plan(local *core.FileFingerprint, remote *core.FileFingerprint) *core.DeltaPlan {
	if remote == nil {
		return &core.DeltaPlan{Kind: core.DeltaFull, Size: local.Size, WholeDigest: local.WholeDigest}
	}
	if remote.WholeDigest == local.WholeDigest {
		return &core.DeltaPlan{Kind: core.DeltaNone, Size: local.Size, WholeDigest: local.WholeDigest}
	}
	if local.NumBlocks() < remote.NumBlocks() {
		// Shrink: the overlay applier cannot truncate a file, so this can never be a delta.
		return &core.DeltaPlan{Kind: core.DeltaFull, Size: local.Size, WholeDigest: local.WholeDigest}
	}
	changed := map[int]struct{}{}
	for i, digest := range local.Blocks {
		if i >= len(remote.Blocks) {
			changed[i] = struct{}{}
			continue
		}
		if remoteDigest, ok := remote.Blocks[i]; !ok || remoteDigest != digest {
			changed[i] = struct{}{}
		}
	}
	return &core.DeltaPlan{
		Kind:        core.DeltaPartial,
		Size:        local.Size,
		WholeDigest: local.WholeDigest,
		Blocks:      indicesOf(changed),
	}
}

func indicesOf(set map[int]struct{}) map[int][]byte {
	// Plan() is a pure classifier: it reports *which* indices changed but has no access to the
	// actual block bytes (that belongs to the codec, which reads them from the local file once
	// it knows which indices to fetch). The byte slices here are left nil as a placeholder the
	// codec fills in.
	out := make(map[int][]byte, len(set))
	for i := range set {
		out[i] = nil
	}
	return out
}
