package extract

import (
	"log/slog"

	"dealroom/internal/domain"
)

// Result is the outcome of one extraction.
type Result struct {
	Terms    domain.DealTerms          `json:"terms"`
	Analysis domain.ExtractionAnalysis `json:"analysis"`
}

// Qualifies reports whether the message should open a negotiation.
func (r Result) Qualifies() bool {
	return r.Analysis.InterestLevel != domain.InterestLow && !r.Terms.IsEmpty()
}

type Extractor struct {
	Classifier Classifier
	Logger     *slog.Logger
}

func New(c Classifier, logger *slog.Logger) Extractor {
	if c == nil {
		c = KeywordClassifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Extractor{Classifier: c, Logger: logger}
}

// Extract never fails: a panicking classifier degrades to the neutral classification.
// budget may be nil when the campaign has none on record.
func (e Extractor) Extract(text string, budget *domain.Budget) Result {
	c := e.classify(text)
	if c.Terms.Deliverables == nil {
		c.Terms.Deliverables = []string{}
	}
	return Result{
		Terms: c.Terms,
		Analysis: domain.ExtractionAnalysis{
			InterestLevel:       c.InterestLevel,
			Confidence:          clamp01(c.Confidence),
			BudgetCompatibility: BudgetCompatibility(c.Terms.TotalRate, budget),
		},
	}
}

func (e Extractor) classify(text string) (c Classification) {
	classifier := e.Classifier
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger().Warn("classifier panicked", "module", "extract", "operation", "classify", "outcome", "neutral", "panic", r)
			c = Neutral()
		}
	}()
	return classifier.Classify(text)
}

func (e Extractor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Neutral is the classification used when the classifier cannot produce one.
func Neutral() Classification {
	return Classification{InterestLevel: domain.InterestMedium, Confidence: 0, Terms: domain.DealTerms{Deliverables: []string{}}}
}

// BudgetCompatibility scores a proposed total against a campaign budget range.
func BudgetCompatibility(total *float64, budget *domain.Budget) float64 {
	if total == nil || budget == nil || budget.Max <= 0 {
		return 0.5
	}
	v := *total
	score := 0.5
	if v <= budget.Max {
		score = 0.8
	}
	if v <= budget.Min {
		score = 0.9
	}
	if v > 1.5*budget.Max {
		score = 0.2
	}
	return score
}
