package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Counters for the compliance core, exposed in Prometheus text format.
var (
	detectionsTotal    atomic.Int64
	suppressionsTotal  atomic.Int64
	deidOperations     atomic.Int64
	clinicalAlerts     atomic.Int64
	calibrationUpdates atomic.Int64
	eventsPublished    atomic.Int64
)

func IncDetections(n int)     { detectionsTotal.Add(int64(n)) }
func IncSuppressions(n int)   { suppressionsTotal.Add(int64(n)) }
func IncDeidOperations()      { deidOperations.Add(1) }
func IncClinicalAlerts(n int) { clinicalAlerts.Add(int64(n)) }
func IncCalibrationUpdates()  { calibrationUpdates.Add(1) }
func IncEventsPublished()     { eventsPublished.Add(1) }

// WritePrometheus renders all counters in the Prometheus exposition format.
func WritePrometheus(w io.Writer) {
	writeCounter(w, "compliance_phi_detections_total", "PHI detections produced", detectionsTotal.Load())
	writeCounter(w, "compliance_phi_suppressions_total", "Detections flagged as contextually expected", suppressionsTotal.Load())
	writeCounter(w, "compliance_deid_operations_total", "De-identification operations", deidOperations.Load())
	writeCounter(w, "compliance_clinical_alerts_total", "Clinical alerts raised", clinicalAlerts.Load())
	writeCounter(w, "compliance_calibration_updates_total", "Calibration feedback batches applied", calibrationUpdates.Load())
	writeCounter(w, "compliance_events_published_total", "Events published to the bus", eventsPublished.Load())
}

func writeCounter(w io.Writer, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, value)
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		WritePrometheus(w)
	})
}
