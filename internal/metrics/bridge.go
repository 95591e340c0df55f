package metrics

// BridgeMetrics holds the metrics of one seat's bridge.
type BridgeMetrics struct {
	registry *Registry

	// Counters
	CommitsTotal       *Counter
	CommitsDiscarded   *Counter
	ActivationsTotal   *Counter
	DeactivationsTotal *Counter
	KeysIntercepted    *Counter
	KeysReplayed       *Counter
	KeysForwarded      *Counter
	StaleCommits       *Counter

	// Gauges
	TextInputs   *Gauge
	InputMethods *Gauge
	KeyLogLength *Gauge

	// Histograms
	ReplayBatch *Histogram
}

// NewBridgeMetrics registers the bridge metrics in registry, labelled
// with the seat name. Nil uses Default.
func NewBridgeMetrics(registry *Registry, seat string) *BridgeMetrics {
	if registry == nil {
		registry = Default()
	}
	labels := Labels{"seat": seat}

	return &BridgeMetrics{
		registry: registry,

		CommitsTotal: registry.RegisterCounter(
			"text_input_commits_total",
			"Text-input commits received",
			labels,
		),
		CommitsDiscarded: registry.RegisterCounter(
			"text_input_commits_discarded_total",
			"Text-input commits dropped without reaching an input method",
			labels,
		),
		ActivationsTotal: registry.RegisterCounter(
			"input_method_activations_total",
			"Input method activations",
			labels,
		),
		DeactivationsTotal: registry.RegisterCounter(
			"input_method_deactivations_total",
			"Input method deactivations",
			labels,
		),
		KeysIntercepted: registry.RegisterCounter(
			"keys_intercepted_total",
			"Physical key events routed to an input method",
			labels,
		),
		KeysReplayed: registry.RegisterCounter(
			"keys_replayed_total",
			"Key events replayed to the input method on request",
			labels,
		),
		KeysForwarded: registry.RegisterCounter(
			"keys_forwarded_total",
			"Key events forwarded by the input method to the application",
			labels,
		),
		StaleCommits: registry.RegisterCounter(
			"input_method_stale_commits_total",
			"Input method commits acknowledging an outdated serial",
			labels,
		),

		TextInputs: registry.RegisterGauge(
			"text_inputs",
			"Live text-input objects",
			labels,
		),
		InputMethods: registry.RegisterGauge(
			"input_methods",
			"Live input-method objects",
			labels,
		),
		KeyLogLength: registry.RegisterGauge(
			"key_log_length",
			"Key events held for replay",
			labels,
		),

		ReplayBatch: registry.RegisterHistogram(
			"replay_batch_size",
			"Key events per replay request",
			labels,
			CountBuckets,
		),
	}
}

// Registry returns the registry the metrics live in.
func (m *BridgeMetrics) Registry() *Registry {
	return m.registry
}

// Stats returns the counters as a name -> value map for status
// reporting.
func (m *BridgeMetrics) Stats() map[string]uint64 {
	return map[string]uint64{
		"commits":           m.CommitsTotal.Value(),
		"commits_discarded": m.CommitsDiscarded.Value(),
		"activations":       m.ActivationsTotal.Value(),
		"deactivations":     m.DeactivationsTotal.Value(),
		"keys_intercepted":  m.KeysIntercepted.Value(),
		"keys_replayed":     m.KeysReplayed.Value(),
		"keys_forwarded":    m.KeysForwarded.Value(),
		"stale_commits":     m.StaleCommits.Value(),
	}
}
