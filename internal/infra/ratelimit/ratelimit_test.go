package ratelimit

import "testing"

func TestAllowWithinBurst(t *testing.T) {
	limiter := NewPerUserLimiter(3)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("u1") {
			t.Fatalf("запрос %d должен быть разрешён", i+1)
		}
	}
	if limiter.Allow("u1") {
		t.Fatal("запрос сверх лимита должен быть отклонён")
	}
}

func TestLimitsAreIndependentPerUser(t *testing.T) {
	limiter := NewPerUserLimiter(1)

	if !limiter.Allow("u1") {
		t.Fatal("первый запрос u1 должен быть разрешён")
	}
	if limiter.Allow("u1") {
		t.Fatal("второй запрос u1 должен быть отклонён")
	}
	if !limiter.Allow("u2") {
		t.Fatal("лимит u1 не должен затрагивать u2")
	}
}

func TestDefaultLimitApplied(t *testing.T) {
	limiter := NewPerUserLimiter(0)

	if !limiter.Allow("u1") {
		t.Fatal("лимитер со значением по умолчанию должен пропускать запросы")
	}
}
