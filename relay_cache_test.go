package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestGenerateRelayKey(t *testing.T) {
	from := "0x1234567890123456789012345678901234567890"
	nonce1 := "0x0000000000000000000000000000000000000000000000000000000000000001"
	nonce2 := "0x0000000000000000000000000000000000000000000000000000000000000002"

	key1 := GenerateRelayKey(from, nonce1)
	key2 := GenerateRelayKey(from, nonce2)
	key3 := GenerateRelayKey(from, nonce1)

	if key1 != key3 {
		t.Errorf("Expected same authorization to produce same key, got %s and %s", key1, key3)
	}
	if key1 == key2 {
		t.Errorf("Expected different nonces to produce different keys")
	}
	if len(key1) != 64 {
		t.Errorf("Expected key to be 64 hex chars, got %d", len(key1))
	}
}

func TestGenerateRelayKey_CaseInsensitive(t *testing.T) {
	lower := GenerateRelayKey("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", "0xAA")
	mixed := GenerateRelayKey("0xABCDEFabcdefABCDEFabcdefABCDEFabcdefABCD", "0xaa")
	if lower != mixed {
		t.Error("Expected checksum casing not to change the key")
	}
}

func confirmedResponse() *RelayResponse {
	return &RelayResponse{
		Success:     true,
		Transaction: "0x123",
		Payer:       "0xabc",
		Network:     "eip155:1444673419",
	}
}

func revertedResponse(reason string) *RelayResponse {
	return &RelayResponse{
		Transaction: "0x456",
		Payer:       "0xabc",
		Network:     "eip155:1444673419",
		Error:       &RelayError{Code: ErrCodeRelayExecutionFailure, Reason: reason},
	}
}

func TestIsFinal(t *testing.T) {
	tests := []struct {
		name string
		resp *RelayResponse
		want bool
	}{
		{"nil", nil, false},
		{"confirmed", confirmedResponse(), true},
		{"nonce already used", revertedResponse(ReasonAuthorizationAlreadyUsed), true},
		{"not yet valid", revertedResponse("AuthorizationNotYetValid"), false},
		{"insufficient balance", revertedResponse("InsufficientBalance"), false},
		{"unknown revert", revertedResponse(""), false},
		{"rejected before submission", &RelayResponse{
			Error: &RelayError{Code: ErrCodeInsufficientBalance},
		}, false},
		{"already used without a transaction", &RelayResponse{
			Error: &RelayError{Code: ErrCodeRelayExecutionFailure, Reason: ReasonAuthorizationAlreadyUsed},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFinal(tt.resp); got != tt.want {
				t.Errorf("IsFinal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRelayCache_CachesConfirmedOutcome(t *testing.T) {
	cache := NewRelayCache(5 * time.Minute)
	key := "test-key"

	cached, claim, err := cache.Acquire(context.Background(), key)
	if err != nil || cached != nil || claim == nil {
		t.Fatalf("Expected a claim on an empty cache, got %v %v %v", cached, claim, err)
	}
	if !claim.Settle(confirmedResponse()) {
		t.Error("Expected a confirmed outcome to be cached")
	}

	cached, claim, err = cache.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if claim != nil {
		t.Fatal("Expected the cached response, got a claim")
	}
	if cached.Transaction != "0x123" {
		t.Errorf("Expected cached transaction 0x123, got %s", cached.Transaction)
	}
}

func TestRelayCache_CachesAlreadyUsedRevert(t *testing.T) {
	cache := NewRelayCache(5 * time.Minute)
	key := "used-key"

	_, claim, _ := cache.Acquire(context.Background(), key)
	claim.Settle(revertedResponse(ReasonAuthorizationAlreadyUsed))

	cached, claim, _ := cache.Acquire(context.Background(), key)
	if claim != nil {
		t.Fatal("Expected the consumed nonce revert to be cached")
	}
	if cached.Error.Reason != ReasonAuthorizationAlreadyUsed {
		t.Errorf("Expected AuthorizationAlreadyUsed, got %s", cached.Error.Reason)
	}
}

func TestRelayCache_RecoverableRevertReleasesKey(t *testing.T) {
	cache := NewRelayCache(5 * time.Minute)
	key := "retry-key"

	_, claim, _ := cache.Acquire(context.Background(), key)
	if claim.Settle(revertedResponse("InsufficientBalance")) {
		t.Error("Expected a balance revert not to be cached")
	}
	if cache.Len() != 0 {
		t.Errorf("Expected the key to be released, %d entries remain", cache.Len())
	}

	cached, claim, _ := cache.Acquire(context.Background(), key)
	if claim == nil || cached != nil {
		t.Fatal("Expected a retry to get a fresh claim")
	}
	claim.Settle(confirmedResponse())

	cached, _, _ = cache.Acquire(context.Background(), key)
	if cached == nil || !cached.Success {
		t.Error("Expected the confirmed retry to be cached")
	}
}

func TestRelayCache_WaiterSharesOutcome(t *testing.T) {
	cache := NewRelayCache(5 * time.Minute)
	key := "shared-key"

	_, claim, _ := cache.Acquire(context.Background(), key)

	var wg sync.WaitGroup
	var waited *RelayResponse
	var waitClaim *RelayClaim
	wg.Add(1)
	go func() {
		defer wg.Done()
		waited, waitClaim, _ = cache.Acquire(context.Background(), key)
	}()

	time.Sleep(20 * time.Millisecond)
	claim.Settle(revertedResponse("AuthorizationNotYetValid"))
	wg.Wait()

	if waitClaim != nil {
		t.Fatal("Expected the waiter to receive the in-flight outcome")
	}
	if waited.Error.Reason != "AuthorizationNotYetValid" {
		t.Errorf("Expected the waiter to see AuthorizationNotYetValid, got %s", waited.Error.Reason)
	}
}

func TestRelayCache_ReleaseHandsClaimToWaiter(t *testing.T) {
	cache := NewRelayCache(5 * time.Minute)
	key := "handoff-key"

	_, claim, _ := cache.Acquire(context.Background(), key)

	var wg sync.WaitGroup
	var waitClaim *RelayClaim
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, waitClaim, _ = cache.Acquire(context.Background(), key)
	}()

	time.Sleep(20 * time.Millisecond)
	claim.Release()
	wg.Wait()

	if waitClaim == nil {
		t.Fatal("Expected the waiter to take over the released claim")
	}
	waitClaim.Release()
}

func TestRelayCache_Expiry(t *testing.T) {
	cache := NewRelayCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }
	key := "expiry-test"

	_, claim, _ := cache.Acquire(context.Background(), key)
	claim.Settle(confirmedResponse())

	cached, _, _ := cache.Acquire(context.Background(), key)
	if cached == nil {
		t.Fatal("Expected the response to be cached before expiry")
	}

	now = now.Add(2 * time.Minute)

	cached, claim, _ = cache.Acquire(context.Background(), key)
	if cached != nil || claim == nil {
		t.Error("Expected a fresh claim after expiry")
	}
}

func TestRelayCache_SweepsExpiredEntries(t *testing.T) {
	cache := NewRelayCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	_, claim, _ := cache.Acquire(context.Background(), "old")
	claim.Settle(confirmedResponse())

	now = now.Add(2 * time.Minute)
	_, claim, _ = cache.Acquire(context.Background(), "new")
	claim.Settle(confirmedResponse())

	if cache.Len() != 1 {
		t.Errorf("Expected only the fresh entry to remain, got %d", cache.Len())
	}
}

func TestRelayCache_AcquireContextCancelled(t *testing.T) {
	cache := NewRelayCache(5 * time.Minute)
	key := "cancel-test"

	_, claim, _ := cache.Acquire(context.Background(), key)
	defer claim.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cached, other, err := cache.Acquire(ctx, key)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if cached != nil || other != nil {
		t.Error("Expected neither a response nor a claim on cancellation")
	}
}

func TestRelayCache_SettleOnce(t *testing.T) {
	cache := NewRelayCache(5 * time.Minute)
	key := "once-key"

	_, claim, _ := cache.Acquire(context.Background(), key)
	if !claim.Settle(confirmedResponse()) {
		t.Fatal("Expected the first settle to cache")
	}
	if claim.Settle(revertedResponse("InsufficientBalance")) {
		t.Error("Expected a second settle to have no effect")
	}
	claim.Release()

	cached, _, _ := cache.Acquire(context.Background(), key)
	if cached == nil || !cached.Success {
		t.Error("Expected the first response to stay cached")
	}
}

func TestRelayCache_SingleClaimUnderContention(t *testing.T) {
	cache := NewRelayCache(5 * time.Minute)
	key := "atomic-test"

	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0
	served := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cached, claim, err := cache.Acquire(context.Background(), key)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			mu.Lock()
			if claim != nil {
				claims++
			} else if cached != nil {
				served++
			}
			mu.Unlock()
			if claim != nil {
				claim.Settle(confirmedResponse())
			}
		}()
	}

	wg.Wait()

	if claims != 1 {
		t.Errorf("Expected exactly 1 claim, got %d", claims)
	}
	if served != 9 {
		t.Errorf("Expected 9 cached responses, got %d", served)
	}
}
