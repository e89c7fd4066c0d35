// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mail transport metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authaas_mail_send_success_total",
		Help: "Total number of mails accepted by the mail host",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authaas_mail_send_failure_total",
		Help: "Total number of failed delivery attempts (including timeouts)",
	}, []string{"host"})

	// Job facility metrics
	JobsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authaas_jobs_enqueued_total",
		Help: "Total number of jobs accepted by the queue",
	})
	JobsDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authaas_jobs_deduplicated_total",
		Help: "Total number of submissions absorbed because a job with the same name was pending",
	})
	JobsSucceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authaas_jobs_succeeded_total",
		Help: "Total number of jobs that completed successfully",
	})
	JobsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authaas_jobs_retried_total",
		Help: "Total number of job retries scheduled",
	})
	JobsDead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authaas_jobs_dead_total",
		Help: "Total number of jobs dropped after exhausting all attempts",
	})
	JobsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authaas_jobs_rejected_total",
		Help: "Total number of submissions rejected (queue full or closed)",
	})

	// Credential lifecycle metrics
	Registrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authaas_registrations_total",
		Help: "Registration attempts grouped by outcome",
	}, []string{"outcome"})
	NotificationSubmitFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authaas_notification_submit_failures_total",
		Help: "Notifications that could not be handed to the job queue",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(JobsEnqueued)
	prometheus.MustRegister(JobsDeduplicated)
	prometheus.MustRegister(JobsSucceeded)
	prometheus.MustRegister(JobsRetried)
	prometheus.MustRegister(JobsDead)
	prometheus.MustRegister(JobsRejected)
	prometheus.MustRegister(Registrations)
	prometheus.MustRegister(NotificationSubmitFailures)
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
