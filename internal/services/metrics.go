package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aiwuxian/recall-knowledge/internal/models"
)

// Metrics 检定相关指标；nil 时所有方法为空操作
type Metrics struct {
	checksTotal    *prometheus.CounterVec
	approvalsTotal *prometheus.CounterVec
	factsRecorded  prometheus.Counter
	rejectedTotal  *prometheus.CounterVec
	falseInfoTotal prometheus.Counter
}

// NewMetrics 在给定的注册器上注册指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		checksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_knowledge_checks_total",
			Help: "Total number of resolved Recall Knowledge checks by degree of success.",
		}, []string{"degree", "assurance"}),
		approvalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_knowledge_approvals_total",
			Help: "Total number of GM approval handshakes by outcome.",
		}, []string{"state"}),
		factsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "recall_knowledge_facts_recorded_total",
			Help: "Total number of facts newly selected for recording.",
		}),
		rejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recall_knowledge_rejected_total",
			Help: "Total number of invocations that ended without a check, by error code.",
		}, []string{"code"}),
		falseInfoTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "recall_knowledge_false_info_total",
			Help: "Total number of false information disclosures.",
		}),
	}
}

func (m *Metrics) check(result models.CheckResult) {
	if m == nil {
		return
	}
	assurance := "false"
	if result.UsedAssurance {
		assurance = "true"
	}
	m.checksTotal.WithLabelValues(string(result.Degree), assurance).Inc()
}

func (m *Metrics) approval(state ApprovalState) {
	if m == nil {
		return
	}
	m.approvalsTotal.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) facts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.factsRecorded.Add(float64(n))
}

func (m *Metrics) rejected(code Code) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(string(code)).Inc()
}

func (m *Metrics) falseInfo() {
	if m == nil {
		return
	}
	m.falseInfoTotal.Inc()
}
