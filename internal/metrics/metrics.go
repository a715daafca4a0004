package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Generations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brofessor",
		Name:      "generations_total",
		Help:      "Chat generations by outcome (ok, error, cancelled).",
	}, []string{"outcome"})

	Offers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brofessor",
		Name:      "document_offers_total",
		Help:      "Document download offers by event (proposed, accepted, declined, missing).",
	}, []string{"event"})

	IngestedFiles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brofessor",
		Name:      "ingested_files_total",
		Help:      "Uploaded files by resulting status.",
	}, []string{"status"})

	NotificationsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "brofessor",
		Name:      "notifications_sent_total",
		Help:      "Broadcast notifications created.",
	})
)

// Register adds all collectors to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{Generations, Offers, IngestedFiles, NotificationsSent} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
