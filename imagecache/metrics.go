package imagecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mhbvr/gallery/bufpool"
)

type instrumented struct {
	Cache
	lookups *prometheus.CounterVec
}

// Instrument counts the lookups of c by result (hit, miss, error) under
// gallery_imagecache_lookups_total.
func Instrument(c Cache, reg prometheus.Registerer) Cache {
	return &instrumented{
		Cache: c,
		lookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gallery_imagecache_lookups_total",
			Help: "Encoded image cache lookups by result",
		}, []string{"result"}),
	}
}

func (c *instrumented) GetImageData(key Key, buf *bufpool.Buffer) (bool, error) {
	found, err := c.Cache.GetImageData(key, buf)
	switch {
	case err != nil:
		c.lookups.WithLabelValues("error").Inc()
	case found:
		c.lookups.WithLabelValues("hit").Inc()
	default:
		c.lookups.WithLabelValues("miss").Inc()
	}
	return found, err
}
