package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Simulated accepts every charge and settles it at once unless configured otherwise.
// It is the default gateway and the one used in tests.
type Simulated struct {
	mu        sync.RWMutex
	chargeErr error
	refundErr error
	async     bool
	charges   atomic.Int64
	refunds   atomic.Int64
}

// NewSimulated creates a simulated gateway that always settles
func NewSimulated() *Simulated {
	return &Simulated{}
}

func (s *Simulated) Name() string {
	return ProviderSimulated
}

// FailCharges makes subsequent charges fail with err; nil restores success
func (s *Simulated) FailCharges(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chargeErr = err
}

// FailRefunds makes subsequent refunds fail with err; nil restores success
func (s *Simulated) FailRefunds(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refundErr = err
}

// SettleAsync makes subsequent charges accepted but unsettled
func (s *Simulated) SettleAsync(async bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.async = async
}

// Charges returns how many charges were attempted
func (s *Simulated) Charges() int64 {
	return s.charges.Load()
}

// Refunds returns how many refunds were attempted
func (s *Simulated) Refunds() int64 {
	return s.refunds.Load()
}

func (s *Simulated) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	s.charges.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	chargeErr, async := s.chargeErr, s.async
	s.mu.RUnlock()
	if chargeErr != nil {
		return nil, chargeErr
	}

	reference := fmt.Sprintf("sim_%s", req.TransactionID)
	if async {
		return &ChargeResult{Reference: reference, Settled: false, Message: "Payment being processed"}, nil
	}
	return &ChargeResult{Reference: reference, Settled: true, Message: "Payment processed successfully"}, nil
}

func (s *Simulated) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	s.refunds.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	refundErr := s.refundErr
	s.mu.RUnlock()
	if refundErr != nil {
		return nil, refundErr
	}

	return &RefundResult{
		Reference: fmt.Sprintf("sim_re_%s", req.TransactionID),
		Message:   "Payment refunded successfully",
	}, nil
}
