package settlement

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402pay/types"
)

func TestInFlightGuardAdmitRelease(t *testing.T) {
	g := NewInFlightGuard()
	sig := solana.Signature{1}

	require.NoError(t, g.Admit(sig))
	err := g.Admit(sig)
	require.Error(t, err)
	assert.Equal(t, types.ErrDuplicateInFlight, types.ErrorCode(err))

	require.NoError(t, g.Admit(solana.Signature{2}))
	assert.Equal(t, 2, g.Len())

	g.Release(sig)
	assert.NoError(t, g.Admit(sig))

	g.Release(solana.Signature{9})
	assert.Equal(t, 2, g.Len())
}

func TestInFlightGuardConcurrentAdmit(t *testing.T) {
	g := NewInFlightGuard()
	sig := solana.Signature{7}

	const workers = 64
	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if g.Admit(sig) == nil {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
	assert.Equal(t, 1, g.Len())
}
