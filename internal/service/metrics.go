package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики конвейера заявок.
var (
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ld_submissions_total",
			Help: "Завершённые заявки по виду и результату.",
		},
		[]string{"kind", "outcome"},
	)

	stagedFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ld_staged_files_total",
			Help: "Попытки загрузки вложений по результату.",
		},
		[]string{"outcome"},
	)

	cleanupFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_cleanup_failures_total",
		Help: "Неудачные компенсирующие удаления вложений.",
	})

	postCommitFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ld_post_commit_failures_total",
			Help: "Неудачные побочные эффекты после commit.",
		},
		[]string{"step"},
	)
)
