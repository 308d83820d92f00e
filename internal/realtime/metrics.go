package realtime

// MetricsRecorder は配信系のメトリクスを記録する。
// metrics.Collectorが実装する。
type MetricsRecorder interface {
	ConnectionOpened()
	ConnectionClosed()
	HandshakeRejected()
	PushDelivered(kind string, sessions int)
	SendFailed(kind string)
}

type noopMetrics struct{}

func (noopMetrics) ConnectionOpened()         {}
func (noopMetrics) ConnectionClosed()         {}
func (noopMetrics) HandshakeRejected()        {}
func (noopMetrics) PushDelivered(string, int) {}
func (noopMetrics) SendFailed(string)         {}

func orNoop(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
