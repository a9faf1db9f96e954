package domain

import (
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 30 * time.Second, MaxDelay: time.Hour}
	expected := []time.Duration{
		0,                 // первая попытка сразу
		30 * time.Second,  // вторая
		time.Minute,       // третья
		2 * time.Minute,   // четвёртая
		4 * time.Minute,   // пятая
	}
	for i, want := range expected {
		if got := policy.NextDelay(i + 1); got != want {
			t.Fatalf("попытка %d: ожидали %v, получили %v", i+1, want, got)
		}
	}
}

func TestRetryPolicyDelayCapped(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 20, BaseDelay: 30 * time.Second, MaxDelay: time.Hour}
	if got := policy.NextDelay(15); got != time.Hour {
		t.Fatalf("ожидали потолок %v, получили %v", time.Hour, got)
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5}
	if policy.Exhausted(4) {
		t.Fatalf("четыре попытки ещё не исчерпывают лимит")
	}
	if !policy.Exhausted(5) {
		t.Fatalf("пятая попытка исчерпывает лимит")
	}
}

func TestPublishJobDue(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)
	earlier := now.Add(-time.Minute)

	job := PublishJob{Status: JobPending}
	if !job.Due(now) {
		t.Fatalf("задача без next_retry_at готова сразу")
	}
	job.NextRetryAt = &later
	if job.Due(now) {
		t.Fatalf("отложенная задача не готова")
	}
	job.NextRetryAt = &earlier
	if !job.Due(now) {
		t.Fatalf("задача с прошедшим next_retry_at готова")
	}
	job.Status = JobCompleted
	if job.Due(now) {
		t.Fatalf("завершённая задача не готова")
	}
}

func TestIsTransientPublishError(t *testing.T) {
	if !IsTransientPublishError(TransientPublishf("rate limit")) {
		t.Fatalf("временная ошибка должна повторяться")
	}
	if IsTransientPublishError(PermanentPublishf("пост отклонён")) {
		t.Fatalf("постоянная ошибка не должна повторяться")
	}
	if !IsTransientPublishError(errors.New("connection reset")) {
		t.Fatalf("неизвестная ошибка считается временной")
	}
}
