package extract_test

import (
	"reflect"
	"testing"

	"dealroom/internal/domain"
	"dealroom/internal/extract"
)

func TestInterestClassification(t *testing.T) {
	cases := []struct {
		text       string
		level      string
		confidence float64
	}{
		{"Thanks, but I'm not interested in this one.", domain.InterestLow, 0.9},
		{"I have to decline, I'm very interested in other work", domain.InterestLow, 0.9},
		{"No thanks!", domain.InterestLow, 0.9},
		{"I'm so excited about this", domain.InterestHigh, 0.85},
		{"Would love to work together", domain.InterestHigh, 0.85},
		{"Sounds like an opportunity", domain.InterestMedium, 0.7},
		{"Hello there", domain.InterestMedium, 0.5},
		{"Interested, my rate is $800", domain.InterestMedium, 0.8},
		{"Very interested, $300 per story and $2k for the total package", domain.InterestHigh, 0.95},
	}
	ex := extract.New(nil, nil)
	for _, tc := range cases {
		res := ex.Extract(tc.text, nil)
		if res.Analysis.InterestLevel != tc.level {
			t.Errorf("%q: level %s, want %s", tc.text, res.Analysis.InterestLevel, tc.level)
		}
		if diff := res.Analysis.Confidence - tc.confidence; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%q: confidence %v, want %v", tc.text, res.Analysis.Confidence, tc.confidence)
		}
	}
}

func TestFindAmounts(t *testing.T) {
	got := extract.FindAmounts("Quote: $1,500 or $ 500.50, maybe $2k, 500 USD, 750 dollars.")
	want := []float64{1500, 500.5, 2000, 500, 750}
	if len(got) != len(want) {
		t.Fatalf("found %d amounts, want %d: %+v", len(got), len(want), got)
	}
	for i, a := range got {
		if a.Value != want[i] {
			t.Fatalf("amount %d = %v, want %v", i, a.Value, want[i])
		}
		if i > 0 && a.Offset <= got[i-1].Offset {
			t.Fatalf("amounts not in text order: %+v", got)
		}
	}
}

func TestRateAttribution(t *testing.T) {
	cases := []struct {
		name string
		text string
		want domain.DealTerms
	}{
		{
			name: "untagged first amount is total",
			text: "My fee would be $1,200 and I could also do $900",
			want: domain.DealTerms{TotalRate: domain.Float(1200), Deliverables: []string{}},
		},
		{
			name: "per unit rates",
			text: "I charge $500 per post. Stories are $150 per story.",
			want: domain.DealTerms{RatePerPost: domain.Float(500), RatePerStory: domain.Float(150), Deliverables: []string{"instagram_post", "instagram_story"}},
		},
		{
			name: "total tag picks last amount",
			text: "Reel $400 each, total: $1,600",
			want: domain.DealTerms{TotalRate: domain.Float(1600), Deliverables: []string{"instagram_reel"}},
		},
		{
			name: "no amounts",
			text: "Happy to do a youtube video and a blog article within 2 weeks",
			want: domain.DealTerms{Deliverables: []string{"blog_post", "video_content"}, Timeline: domain.String("2 weeks")},
		},
	}
	ex := extract.New(nil, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ex.Extract(tc.text, nil).Terms
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("terms = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDeliverablesAreASet(t *testing.T) {
	res := extract.New(nil, nil).Extract("post, posts, another post and a reel and some reels", nil)
	if !reflect.DeepEqual(res.Terms.Deliverables, []string{"instagram_post", "instagram_reel"}) {
		t.Fatalf("deliverables = %v", res.Terms.Deliverables)
	}
}

func TestTimelineFirstMatchWins(t *testing.T) {
	res := extract.New(nil, nil).Extract("Could deliver in 3 Weeks, or 1 month at most", nil)
	if res.Terms.Timeline == nil || *res.Terms.Timeline != "3 weeks" {
		t.Fatalf("timeline = %v", res.Terms.Timeline)
	}
}

func TestBudgetCompatibility(t *testing.T) {
	budget := &domain.Budget{Min: 400, Max: 800}
	cases := []struct {
		total  *float64
		budget *domain.Budget
		want   float64
	}{
		{nil, budget, 0.5},
		{domain.Float(500), nil, 0.5},
		{domain.Float(900), budget, 0.5},
		{domain.Float(800), budget, 0.8},
		{domain.Float(400), budget, 0.9},
		{domain.Float(1201), budget, 0.2},
		{domain.Float(500), &domain.Budget{Min: 100}, 0.5},
	}
	for _, tc := range cases {
		if got := extract.BudgetCompatibility(tc.total, tc.budget); got != tc.want {
			t.Errorf("total %v budget %+v: got %v want %v", tc.total, tc.budget, got, tc.want)
		}
	}
}

func TestCreatorReplyScenario(t *testing.T) {
	res := extract.New(nil, nil).Extract("I'm very interested! My rate is $500 per post for 2 posts", &domain.Budget{Min: 400, Max: 800})
	if res.Analysis.InterestLevel != domain.InterestHigh {
		t.Fatalf("interest = %s", res.Analysis.InterestLevel)
	}
	if !reflect.DeepEqual(res.Terms.Deliverables, []string{"instagram_post"}) {
		t.Fatalf("deliverables = %v", res.Terms.Deliverables)
	}
	if res.Terms.RatePerPost == nil || *res.Terms.RatePerPost != 500 {
		t.Fatalf("rate_per_post = %v", res.Terms.RatePerPost)
	}
	if res.Terms.TotalRate != nil {
		t.Fatalf("unexpected total_rate %v", *res.Terms.TotalRate)
	}
	if !res.Qualifies() {
		t.Fatalf("expected reply to qualify for a negotiation")
	}
}

type panickingClassifier struct{}

func (panickingClassifier) Classify(string) extract.Classification { panic("model unavailable") }

func TestPanickingClassifierDegradesToNeutral(t *testing.T) {
	res := extract.New(panickingClassifier{}, nil).Extract("$5,000 total package", &domain.Budget{Min: 1, Max: 2})
	if res.Analysis.InterestLevel != domain.InterestMedium || res.Analysis.Confidence != 0 {
		t.Fatalf("unexpected analysis %+v", res.Analysis)
	}
	if !res.Terms.IsEmpty() || res.Analysis.BudgetCompatibility != 0.5 {
		t.Fatalf("expected empty terms and neutral budget score, got %+v", res)
	}
	if res.Qualifies() {
		t.Fatalf("neutral classification must not open a negotiation")
	}
}
