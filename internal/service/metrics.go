package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метки операций сессии
const (
	opInit              = "init"
	opSelectCategory    = "select_category"
	opSelectStoryIdea   = "select_story_idea"
	opSelectChoice      = "select_choice"
	opForceFinish       = "force_finish"
	opGoHome            = "go_home"
	opViewHistory       = "view_history"
	opReturnFromHistory = "return_from_history"
	opOpenHistoryEntry  = "open_history_entry"
)

// Результаты операций
const (
	statusSuccess  = "success"
	statusFailed   = "failed"   // Ошибка генерации или сохранения, lastError выставлен
	statusRejected = "rejected" // Нарушение контракта вызова
	statusReset    = "reset"    // Результат пришел после goHome
)

var (
	sessionOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dreamweaver_session_operations_total",
			Help: "Total number of session operations by result.",
		},
		[]string{"operation", "status"},
	)

	sessionOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dreamweaver_session_operation_duration_seconds",
			Help:    "Duration of session operations that call the story generator.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		},
		[]string{"operation"},
	)

	storiesCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dreamweaver_stories_completed_total",
			Help: "Total number of stories saved to history, by ending.",
		},
		[]string{"ending"},
	)
)
