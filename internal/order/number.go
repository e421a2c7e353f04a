package order

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"
)

// orderNumberSeq hands out time+sequence derived order numbers. The
// sequence starts at a random offset so two processes started in the
// same second do not collide on their first orders.
type orderNumberSeq struct {
	counter atomic.Uint64
}

func newOrderNumberSeq() *orderNumberSeq {
	s := &orderNumberSeq{}
	s.counter.Store(rand.Uint64() % 1000000)
	return s
}

// next returns a human-readable unique order number, e.g.
// POS-20260901143005-004217.
func (s *orderNumberSeq) next(at time.Time) string {
	n := s.counter.Add(1) % 1000000
	return fmt.Sprintf("POS-%s-%06d", at.Format("20060102150405"), n)
}
