package models

import "errors"

// Ошибки доменного уровня. Обработчики HTTP сопоставляют их
// с кодами ответов через errors.Is.
var (
	// ErrValidation - некорректный входной запрос, отбрасывается на границе
	ErrValidation = errors.New("validation failed")

	// ErrNotFound - сущность не найдена
	ErrNotFound = errors.New("not found")

	// ErrNoCandidates - после эскалации радиуса не найдено ни одного исполнителя
	ErrNoCandidates = errors.New("no workers available")

	// ErrConflict - проигранная гонка accept, устаревшая версия статуса
	// или недопустимый переход; восстанавливается повторным чтением
	ErrConflict = errors.New("conflict")

	// ErrWorkerBusy - у исполнителя уже есть открытое назначение
	ErrWorkerBusy = errors.New("worker already has an active assignment")

	// ErrTerminalStatus - заявка в терминальном статусе, переходы запрещены
	ErrTerminalStatus = errors.New("gig is in a terminal status")
)
