package webrtc

import (
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// reportInterval is how often a draining track logs its throughput.
const reportInterval = 5 * time.Second

// drainRemoteTrack reads a remote track until it ends, logging periodic
// packet and byte counters. This client has no display surface; the
// counters are what "rendering" means here.
func (e *Engine) drainRemoteTrack(track *pion.TrackRemote) {
	log := e.log.WithFields(logrus.Fields{
		"id":   track.ID(),
		"kind": track.Kind().String(),
	})

	var packets, bytes uint64
	lastReport := time.Now()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.WithFields(logrus.Fields{
				"packets": packets,
				"bytes":   bytes,
			}).Debug("remote track ended")
			return
		}
		packets++
		bytes += uint64(len(pkt.Payload))

		if time.Since(lastReport) >= reportInterval {
			log.WithFields(logrus.Fields{
				"packets": packets,
				"bytes":   bytes,
			}).Info("receiving")
			lastReport = time.Now()
		}
	}
}
