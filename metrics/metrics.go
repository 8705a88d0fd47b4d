package metrics

import (
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "replsend"

// ServerStatsProvider decouples the collector from the control-protocol
// server the same way replication.MetricsSink decouples the
// replication core from this package: neither side imports the other.
type ServerStatsProvider interface {
	ActiveConns() int64
	TotalConns() uint64
}

// Collector is a prometheus.Collector that also satisfies
// replication.MetricsSink: the replication core calls its counting
// methods directly, and Collect reads them back out under atomics
// rather than a mutex.
type Collector struct {
	serverStats ServerStatsProvider

	jobsActive  int64
	jobsTotal   uint64
	jobsFailed  uint64
	bytesSent   uint64
	rawBytes    uint64
	keysVisited uint64
	heartbeats  uint64

	jobDuration *prometheus.HistogramVec

	activeConns     *prometheus.Desc
	totalConns      *prometheus.Desc
	jobsActiveDesc  *prometheus.Desc
	jobsTotalDesc   *prometheus.Desc
	jobsFailedDesc  *prometheus.Desc
	bytesSentDesc   *prometheus.Desc
	rawBytesDesc    *prometheus.Desc
	keysVisitedDesc *prometheus.Desc
	heartbeatsDesc  *prometheus.Desc
}

func NewCollector(stats ServerStatsProvider) *Collector {
	return &Collector{
		serverStats: stats,
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "job_duration_seconds",
			Help:      "Duration of snapshot transfer jobs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		activeConns:     newDesc("server", "connections_active", "Active connections"),
		totalConns:      newDesc("server", "connections_accepted_total", "Total connections accepted"),
		jobsActiveDesc:  newDesc("replication", "jobs_active", "Snapshot transfer jobs currently running"),
		jobsTotalDesc:   newDesc("replication", "jobs_total", "Total snapshot transfer jobs started"),
		jobsFailedDesc:  newDesc("replication", "jobs_failed_total", "Total snapshot transfer jobs that failed"),
		bytesSentDesc:   newDesc("replication", "bytes_sent_total", "Total batch frame bytes queued to replica links"),
		rawBytesDesc:    newDesc("replication", "raw_bytes_total", "Total uncompressed bytes read from snapshots"),
		keysVisitedDesc: newDesc("replication", "keys_visited_total", "Total keys visited across all jobs"),
		heartbeatsDesc:  newDesc("replication", "heartbeats_total", "Total heartbeats sent to masters"),
	}
}

func newDesc(sub, name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, sub, name), help, nil, nil)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsActiveDesc
	ch <- c.jobsTotalDesc
	ch <- c.jobsFailedDesc
	ch <- c.bytesSentDesc
	ch <- c.rawBytesDesc
	ch <- c.keysVisitedDesc
	ch <- c.heartbeatsDesc
	if c.serverStats != nil {
		ch <- c.activeConns
		ch <- c.totalConns
	}
	c.jobDuration.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.jobsActiveDesc, prometheus.GaugeValue, float64(atomic.LoadInt64(&c.jobsActive)))
	ch <- prometheus.MustNewConstMetric(c.jobsTotalDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.jobsTotal)))
	ch <- prometheus.MustNewConstMetric(c.jobsFailedDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.jobsFailed)))
	ch <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.bytesSent)))
	ch <- prometheus.MustNewConstMetric(c.rawBytesDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.rawBytes)))
	ch <- prometheus.MustNewConstMetric(c.keysVisitedDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.keysVisited)))
	ch <- prometheus.MustNewConstMetric(c.heartbeatsDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&c.heartbeats)))
	if c.serverStats != nil {
		ch <- prometheus.MustNewConstMetric(c.activeConns, prometheus.GaugeValue, float64(c.serverStats.ActiveConns()))
		ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.CounterValue, float64(c.serverStats.TotalConns()))
	}
	c.jobDuration.Collect(ch)
}

func (c *Collector) JobStarted() {
	atomic.AddInt64(&c.jobsActive, 1)
	atomic.AddUint64(&c.jobsTotal, 1)
}

func (c *Collector) JobEnded(success bool, dur time.Duration) {
	atomic.AddInt64(&c.jobsActive, -1)
	result := "success"
	if !success {
		result = "failure"
		atomic.AddUint64(&c.jobsFailed, 1)
	}
	c.jobDuration.WithLabelValues(result).Observe(dur.Seconds())
}

func (c *Collector) AddBytesSent(n uint64)   { atomic.AddUint64(&c.bytesSent, n) }
func (c *Collector) AddRawBytes(n uint64)    { atomic.AddUint64(&c.rawBytes, n) }
func (c *Collector) AddKeysVisited(n uint64) { atomic.AddUint64(&c.keysVisited, n) }
func (c *Collector) IncHeartbeats()          { atomic.AddUint64(&c.heartbeats, 1) }

func StartServer(addr string, c *Collector, logger *slog.Logger) {
	if addr == "" {
		return
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	go func() {
		logger.Info("metrics server starting", "addr", addr)
		http.ListenAndServe(addr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}()
}
