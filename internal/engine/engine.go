// Package engine implements the delta-debugging search: the iterative
// reduce-to-subset / reduce-to-complement / increase-granularity loop that
// drives an Oracle down to a 1-minimal ChunkSet.
package engine

import (
	"context"
	"fmt"

	"github.com/calvinalkan/ddmin/internal/chunkset"
	"github.com/calvinalkan/ddmin/internal/oracle"
)

// Run minimizes an input of size inputSize bytes against oc, starting from
// the whole-input ChunkSet at granularity 2 (the classic ddmin start; a
// granularity-1 start behaves slightly differently on trivially small
// inputs and is not supported). It returns ErrInitialDoesNotFail if the
// Oracle classifies the unreduced input as PASS.
func Run(ctx context.Context, oc *oracle.Oracle, inputSize int64) (chunkset.ChunkSet, error) {
	t := chunkset.ChunkSet{{Start: 0, End: inputSize}}

	fail, err := oc.Query(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("querying initial input: %w", err)
	}

	if !fail {
		return nil, ErrInitialDoesNotFail
	}

	granularity := int64(2)

restart:
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(t) > 1 {
			for i := range t {
				singleton := t.Singleton(i)

				fail, err := oc.Query(ctx, singleton)
				if err != nil {
					return nil, fmt.Errorf("querying subset %d/%d: %w", i+1, len(t), err)
				}

				if fail {
					t = singleton.SplitAllHalves()
					granularity *= 2

					continue restart
				}
			}
		}

		if len(t) > 1 {
			for i := range t {
				complement := t.Complement(i)

				fail, err := oc.Query(ctx, complement)
				if err != nil {
					return nil, fmt.Errorf("querying complement %d/%d: %w", i+1, len(t), err)
				}

				if fail {
					t = complement

					continue restart
				}
			}
		}

		if granularity < inputSize {
			t = t.SplitAllHalves()
			granularity *= 2

			continue restart
		}

		break
	}

	return t.Normalize(), nil
}
