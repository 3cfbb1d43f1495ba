package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DraftsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_drafts_generated_total",
		Help: "AI drafts produced by generation batches.",
	})

	GenerationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_generation_failures_total",
		Help: "Per-lead generation failures inside batches.",
	})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outreach_decisions_total",
		Help: "Review decisions recorded, by outcome.",
	}, []string{"outcome"})

	CRMSyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_crm_sync_failures_total",
		Help: "Approved drafts whose CRM upsert failed and went to retry.",
	})

	EmailsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_emails_sent_total",
		Help: "Outbound emails handed to the transport.",
	})

	InboundIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_inbound_ingested_total",
		Help: "Inbound replies ingested into the review queue.",
	})

	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_ticks_total",
		Help: "Scheduler tick passes executed.",
	})

	SpendMicroUSD = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outreach_spend_micro_usd_total",
		Help: "Generation spend recorded in the cost ledger, micro-USD.",
	})
)
