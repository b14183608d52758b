package engine

import (
	"fmt"
	"math"

	"dealroom/internal/config"
	"dealroom/internal/domain"
)

const HealthUnknown = "unknown"

// Analyzer scores a brand counter-offer against the creator's original terms.
// round is the round number the counter-offer occupies.
type Analyzer interface {
	Analyze(creator, proposed domain.DealTerms, round, maxRounds int) (domain.RoundAnalysis, error)
}

// NeutralAnalysis is used whenever the analyzer cannot produce a score.
func NeutralAnalysis() domain.RoundAnalysis {
	return domain.RoundAnalysis{Variance: 0, LikelihoodOfAcceptance: 0.5, NegotiationHealth: HealthUnknown, ShouldAutoRespond: false}
}

// VarianceAnalyzer scores by relative distance between proposed and asked totals.
type VarianceAnalyzer struct {
	Config config.NegotiationConfig
}

func (a VarianceAnalyzer) Analyze(creator, proposed domain.DealTerms, round, maxRounds int) (domain.RoundAnalysis, error) {
	v := Variance(creator, proposed)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return domain.RoundAnalysis{}, fmt.Errorf("variance is not finite")
	}
	cfg := a.Config
	res := domain.RoundAnalysis{Variance: v}
	switch {
	case v < cfg.Likelihood.HighBelow:
		res.LikelihoodOfAcceptance = cfg.Likelihood.High
	case v < cfg.Likelihood.MediumBelow:
		res.LikelihoodOfAcceptance = cfg.Likelihood.Medium
	default:
		res.LikelihoodOfAcceptance = cfg.Likelihood.Low
	}
	switch {
	case v < cfg.Health.GoodBelow:
		res.NegotiationHealth = "good"
	case v < cfg.Health.ModerateBelow:
		res.NegotiationHealth = "moderate"
	default:
		res.NegotiationHealth = "poor"
	}
	res.ShouldAutoRespond = v < cfg.AutoRespondVariance && round < maxRounds
	return res, nil
}

// Variance is |proposed - asked| / asked over total rates; 0 when either total is missing
// or the ask is zero.
func Variance(creator, proposed domain.DealTerms) float64 {
	if creator.TotalRate == nil || *creator.TotalRate == 0 || proposed.TotalRate == nil {
		return 0
	}
	c := *creator.TotalRate
	return math.Abs(*proposed.TotalRate-c) / math.Abs(c)
}

// analyze never fails; errors and panics in the analyzer degrade to the neutral result.
func (e Engine) analyze(creator, proposed domain.DealTerms, round, maxRounds int) (res domain.RoundAnalysis) {
	a := e.Analyzer
	if a == nil {
		a = VarianceAnalyzer{Config: e.Config.Negotiation}
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger().Warn("analyzer panicked", "module", "engine", "operation", "analyze", "outcome", "neutral", "panic", r)
			res = NeutralAnalysis()
		}
	}()
	res, err := a.Analyze(creator, proposed, round, maxRounds)
	if err != nil {
		e.logger().Warn("analyzer failed", "module", "engine", "operation", "analyze", "outcome", "neutral", "error", err)
		return NeutralAnalysis()
	}
	return res
}

type autoReply struct {
	responseType string
	terms        domain.DealTerms
	message      string
}

// decideReply picks the simulated creator reply from the acceptance likelihood.
func (e Engine) decideReply(analysis domain.RoundAnalysis, proposed domain.DealTerms) autoReply {
	cfg := e.Config.Negotiation
	switch {
	case analysis.LikelihoodOfAcceptance > cfg.AcceptAbove:
		return autoReply{responseType: domain.ResponseAccept, terms: proposed.Clone(), message: "Terms accepted."}
	case analysis.LikelihoodOfAcceptance > cfg.CounterAbove:
		counter := proposed.Clone()
		if counter.TotalRate != nil {
			counter.TotalRate = domain.Float(math.Round(*counter.TotalRate * (1 + cfg.AutoCounterBump)))
		}
		return autoReply{responseType: domain.ResponseCounter, terms: counter, message: fmt.Sprintf("Counter-proposal at %.2f.", counter.Total())}
	default:
		return autoReply{responseType: domain.ResponseDecline, terms: domain.DealTerms{Deliverables: []string{}}, message: "Unable to agree on these terms."}
	}
}
