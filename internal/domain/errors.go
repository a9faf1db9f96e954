package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound возвращается, когда запись отсутствует.
var ErrNotFound = errors.New("запись не найдена")

// ErrForbidden возвращается при попытке доступа к чужому ресурсу.
var ErrForbidden = errors.New("нет доступа к ресурсу")

// ErrNoTargets возвращается, если у публикации нет ни одной целевой площадки.
var ErrNoTargets = errors.New("не выбрана ни одна площадка для публикации")

// ErrNotPromotable возвращается, если публикация уже отправлена в работу.
var ErrNotPromotable = errors.New("публикация уже не в статусе черновика или расписания")

// ErrConnectionInactive возвращается при попытке использовать отключённое подключение.
var ErrConnectionInactive = errors.New("подключение к площадке неактивно")

// PublishError описывает исход неудачной попытки публикации.
// Временные ошибки (таймаут, rate limit, 5xx) повторяются по расписанию,
// постоянные фиксируются сразу.
type PublishError struct {
	Reason    string
	Transient bool
}

func (e *PublishError) Error() string { return e.Reason }

// Temporary сообщает, имеет ли смысл повтор.
func (e *PublishError) Temporary() bool { return e.Transient }

// TransientPublishf создаёт временную ошибку публикации.
func TransientPublishf(format string, args ...any) *PublishError {
	return &PublishError{Reason: fmt.Sprintf(format, args...), Transient: true}
}

// PermanentPublishf создаёт постоянную ошибку публикации.
func PermanentPublishf(format string, args ...any) *PublishError {
	return &PublishError{Reason: fmt.Sprintf(format, args...), Transient: false}
}

// IsTransientPublishError классифицирует ошибку попытки публикации.
// Неизвестные ошибки считаются временными: сетевые сбои обычно проходят сами.
func IsTransientPublishError(err error) bool {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}
