package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - счетчики движка синхронизации
type Metrics struct {
	Events           *prometheus.CounterVec
	DuplicatesFolded prometheus.Counter
	OrphanedRecords  prometheus.Counter
	SendFailures     prometheus.Counter
	Refreshes        prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dm_sync_events_total",
			Help: "Inbound push events by classified kind.",
		}, []string{"kind"}),
		DuplicatesFolded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_sync_duplicates_folded_total",
			Help: "Message records folded into an existing logical message.",
		}),
		OrphanedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_sync_orphaned_records_total",
			Help: "Records dropped because no conversation could be resolved.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_sync_send_failures_total",
			Help: "Drafts moved to failed after a persistence error or timeout.",
		}),
		Refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dm_sync_refreshes_total",
			Help: "Conversation list refreshes performed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Events, m.DuplicatesFolded, m.OrphanedRecords, m.SendFailures, m.Refreshes)
	}
	return m
}
