package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var operationsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "index_operations_total",
	Help: "Total number of index operations by outcome.",
}, []string{
	"op",      // insert | search | delete
	"outcome", // inserted | exists | found | missing | deleted
})
