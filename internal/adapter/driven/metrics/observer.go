package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

// Observer exports coordinator notifications as Prometheus metrics. It is
// registered as a state observer and therefore only called from the
// coordinator goroutine.
type Observer struct {
	started     *prometheus.CounterVec
	ended       *prometheus.CounterVec
	activations prometheus.Counter
	errors      *prometheus.CounterVec
	connected   prometheus.Gauge
	phase       *prometheus.GaugeVec
	channels    prometheus.Gauge
	talking     prometheus.Gauge

	lastSession string
	lastPhase   domain.Phase
	audioSeen   bool
	speakers    map[domain.UserSession]bool
}

func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mumblecall",
			Name:      "calls_started_total",
			Help:      "Call sessions started, by direction.",
		}, []string{"direction"}),
		ended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mumblecall",
			Name:      "calls_ended_total",
			Help:      "Call sessions ended, by end reason.",
		}, []string{"reason"}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mumblecall",
			Name:      "audio_activations_total",
			Help:      "Sessions whose audio was activated.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mumblecall",
			Name:      "errors_total",
			Help:      "Non-fatal errors reported to observers.",
		}, []string{"kind"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mumblecall",
			Name:      "signaling_connected",
			Help:      "1 while the signaling connection is authenticated.",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mumblecall",
			Name:      "call_phase",
			Help:      "1 for the phase the current call is in.",
		}, []string{"phase"}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mumblecall",
			Name:      "channels",
			Help:      "Channels in the last synchronized tree.",
		}),
		talking: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mumblecall",
			Name:      "users_talking",
			Help:      "Users currently transmitting.",
		}),
		lastPhase: domain.PhaseIdle,
		speakers:  make(map[domain.UserSession]bool),
	}
	reg.MustRegister(o.started, o.ended, o.activations, o.errors, o.connected, o.phase, o.channels, o.talking)
	o.phase.WithLabelValues(domain.PhaseIdle.String()).Set(1)
	return o
}

func (o *Observer) OnModelChanged(tree domain.ChannelTree) {
	n := 0
	tree.Walk(func(*domain.Channel, int) bool {
		n++
		return true
	})
	o.channels.Set(float64(n))
}

func (o *Observer) OnUserTalkStateChanged(user domain.User, talking bool) {
	if talking {
		o.speakers[user.Session] = true
	} else {
		delete(o.speakers, user.Session)
	}
	o.talking.Set(float64(len(o.speakers)))
}

func (o *Observer) OnConnectionStateChange(state domain.ConnectionState) {
	if state == domain.ConnectionConnected {
		o.connected.Set(1)
		return
	}
	o.connected.Set(0)
	clear(o.speakers)
	o.talking.Set(0)
}

func (o *Observer) OnCallStateChanged(st domain.CallStatus) {
	if st.SessionID != "" && st.SessionID != o.lastSession {
		o.lastSession = st.SessionID
		o.audioSeen = false
		o.started.WithLabelValues(string(st.Direction)).Inc()
	}
	if st.AudioActive && !o.audioSeen {
		o.audioSeen = true
		o.activations.Inc()
	}

	phase := st.Phase
	if phase == domain.PhaseEnded {
		o.ended.WithLabelValues(string(st.EndReason)).Inc()
		phase = domain.PhaseIdle
	}
	if phase != o.lastPhase {
		o.phase.WithLabelValues(o.lastPhase.String()).Set(0)
		o.phase.WithLabelValues(phase.String()).Set(1)
		o.lastPhase = phase
	}
}

func (o *Observer) OnError(err error) {
	kind := "other"
	if errors.Is(err, domain.ErrPermissionDenied) {
		kind = "permission_denied"
	}
	o.errors.WithLabelValues(kind).Inc()
}
