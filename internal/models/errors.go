package models

import "errors"

// Ошибки операций сессии. Все четыре восстановимы повтором того же действия.
var (
	ErrIdeaFetchFailed     = errors.New("idea fetch failed")
	ErrStoryStartFailed    = errors.New("story start failed")
	ErrStoryContinueFailed = errors.New("story continue failed")
	ErrStoryFinishFailed   = errors.New("story finish failed")
)

// Нарушения контракта вызова. Состояние сессии при них не меняется.
var (
	ErrInvalidPhase         = errors.New("operation is not allowed in the current phase")
	ErrSessionBusy          = errors.New("another operation is in progress")
	ErrSessionReset         = errors.New("session was reset while the operation was running")
	ErrUnknownCategory      = errors.New("unknown category")
	ErrUnknownIdea          = errors.New("story idea is not among the offered ideas")
	ErrInvalidChoice        = errors.New("choice is not among the current choices")
	ErrNoActiveStory        = errors.New("no active story")
	ErrHistoryEntryNotFound = errors.New("history entry not found")
)

// Сообщения для пользователя. Причина сбоя намеренно не различается.
const (
	MsgIdeaFetchFailed     = "Could not get story ideas. Please try again."
	MsgStoryStartFailed    = "Could not start the story. Please try again."
	MsgStoryContinueFailed = "Could not continue the story. Please try again."
	MsgStoryFinishFailed   = "Could not finish the story. Please try again."
)

// UserMessage возвращает текст для пользователя по ошибке операции.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrIdeaFetchFailed):
		return MsgIdeaFetchFailed
	case errors.Is(err, ErrStoryStartFailed):
		return MsgStoryStartFailed
	case errors.Is(err, ErrStoryContinueFailed):
		return MsgStoryContinueFailed
	case errors.Is(err, ErrStoryFinishFailed):
		return MsgStoryFinishFailed
	default:
		return ""
	}
}
