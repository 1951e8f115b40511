package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var adminAuthFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "stratos_admin_auth_failures",
	Help: "Number of XRPC requests rejected for bad admin credentials",
})

var reportsRateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Name: "stratos_reports_rate_limited",
	Help: "Number of report submissions rejected by the rate limiter",
})
