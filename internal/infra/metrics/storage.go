package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(assetDownloadsTotal, assetBytesStored) }

var (
	assetDownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_downloads_total",
			Help: "Provider asset downloads into durable storage, by kind and outcome.",
		},
		[]string{"kind", "outcome"}, // kind: 'storyboard', 'clip'; outcome: 'ok', 'skipped', 'failed'
	)

	assetBytesStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "asset_bytes_stored_total",
			Help: "Total bytes written to durable storage.",
		},
	)
)

func IncAssetDownload(kind, outcome string) {
	assetDownloadsTotal.WithLabelValues(norm(kind), norm(outcome)).Inc()
}

func AddAssetBytes(n int64) {
	if n > 0 {
		assetBytesStored.Add(float64(n))
	}
}
