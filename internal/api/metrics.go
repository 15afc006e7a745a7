package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newMetricsHandler builds the GET /metrics exporter: gauges sampled live
// from the running node at scrape time rather than updated on a ticker,
// since each has a cheap, already-synchronized source (the mempool's
// mutex, the peer store's snapshot, the replica's own accessors).
func (s *Server) newMetricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ledgernode_mempool_size",
			Help: "Pending transactions currently held in the mempool.",
		}, func() float64 { return float64(s.mempool.Size()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ledgernode_peer_count",
			Help: "Known P2P peer addresses in the peer store.",
		}, func() float64 {
			if s.peers == nil {
				return 0
			}
			return float64(len(s.peers.PeerStore().Snapshot()))
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ledgernode_consensus_view",
			Help: "Current consensus view number.",
		}, func() float64 {
			if s.replica == nil {
				return 0
			}
			return float64(s.replica.View())
		}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
