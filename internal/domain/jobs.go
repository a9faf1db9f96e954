package domain

import "time"

// PublishJob содержит задачу на одну попытку доставки.
type PublishJob struct {
	ID          string
	DeliveryID  int64
	Status      JobStatus
	Attempts    int
	NextRetryAt *time.Time
	CreatedAt   time.Time
}

// Due сообщает, готова ли задача к выполнению в момент now.
func (j PublishJob) Due(now time.Time) bool {
	if j.Status != JobPending {
		return false
	}
	return j.NextRetryAt == nil || !j.NextRetryAt.After(now)
}

// RetryPolicy задаёт расписание повторов временных ошибок.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NextDelay возвращает задержку перед попыткой attempt (считая с 1).
// Первая попытка выполняется сразу, дальше задержка удваивается до потолка.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := p.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Exhausted сообщает, исчерпан ли лимит попыток.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// PassReport содержит итоги одного прохода планировщика.
type PassReport struct {
	Promoted  int `json:"promoted"`
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Add суммирует отчёты.
func (r *PassReport) Add(other PassReport) {
	r.Promoted += other.Promoted
	r.Processed += other.Processed
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
}
