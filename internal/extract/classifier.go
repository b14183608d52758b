package extract

import (
	"regexp"
	"strconv"
	"strings"

	"dealroom/internal/domain"
)

// Classification is what a Classifier reads out of one message.
type Classification struct {
	InterestLevel string           `json:"interest_level"`
	Confidence    float64          `json:"confidence"`
	Terms         domain.DealTerms `json:"terms"`
}

// Classifier turns free text into terms and an interest reading. Implementations may be
// swapped for a model-backed one; the Extractor guards every call.
type Classifier interface {
	Classify(text string) Classification
}

var (
	negativePhrases = []string{"not interested", "decline", "no thanks"}
	strongPhrases   = []string{"very interested", "excited", "would love to"}
	genericPhrases  = []string{"interested", "opportunity"}
)

var (
	amountRe   = regexp.MustCompile(`(?i)\$\s*(\d[\d,]*(?:\.\d+)?)(k\b)?|(\d[\d,]*(?:\.\d+)?)\s*(?:usd|dollars?)\b`)
	timelineRe = regexp.MustCompile(`(?i)\b(\d+)\s*(day|week|month)s?\b`)
)

var deliverableFamilies = []struct {
	tag string
	re  *regexp.Regexp
}{
	{"instagram_post", regexp.MustCompile(`(?i)\bposts?\b`)},
	{"instagram_story", regexp.MustCompile(`(?i)\bstor(?:y|ies)\b`)},
	{"instagram_reel", regexp.MustCompile(`(?i)\breels?\b`)},
	{"video_content", regexp.MustCompile(`(?i)\b(?:videos?|youtube|tiktok)\b`)},
	{"blog_post", regexp.MustCompile(`(?i)\b(?:blogs?|articles?)\b`)},
}

const attributionWindow = 20

// Amount is one currency figure found in a message.
type Amount struct {
	Value  float64
	Offset int
	End    int
}

// KeywordClassifier is the rule-based default classifier.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(text string) Classification {
	lower := strings.ToLower(text)
	interest, confidence := classifyInterest(lower)
	terms := domain.DealTerms{Deliverables: []string{}}
	amounts := FindAmounts(text)
	attributeRates(lower, amounts, &terms)
	for _, fam := range deliverableFamilies {
		if fam.re.MatchString(text) {
			terms.AddDeliverable(fam.tag)
		}
	}
	if m := timelineRe.FindStringSubmatch(text); m != nil {
		terms.Timeline = domain.String(m[1] + " " + strings.ToLower(m[2]) + "s")
	}
	if len(amounts) > 0 {
		confidence += 0.1
	}
	return Classification{InterestLevel: interest, Confidence: clamp01(confidence), Terms: terms}
}

func classifyInterest(lower string) (string, float64) {
	switch {
	case containsAny(lower, negativePhrases):
		return domain.InterestLow, 0.9
	case containsAny(lower, strongPhrases):
		return domain.InterestHigh, 0.85
	case containsAny(lower, genericPhrases):
		return domain.InterestMedium, 0.7
	default:
		return domain.InterestMedium, 0.5
	}
}

// FindAmounts returns every currency figure in text order with its byte offsets.
func FindAmounts(text string) []Amount {
	var out []Amount
	for _, loc := range amountRe.FindAllStringSubmatchIndex(text, -1) {
		var raw string
		multiplier := 1.0
		if loc[2] >= 0 {
			raw = text[loc[2]:loc[3]]
			if loc[4] >= 0 {
				multiplier = 1000
			}
		} else {
			raw = text[loc[6]:loc[7]]
		}
		v, ok := parseNumber(raw)
		if !ok {
			continue
		}
		out = append(out, Amount{Value: v * multiplier, Offset: loc[0], End: loc[1]})
	}
	return out
}

func parseNumber(raw string) (float64, bool) {
	raw = strings.ReplaceAll(strings.TrimRight(raw, ","), ",", "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func attributeRates(lower string, amounts []Amount, terms *domain.DealTerms) {
	if len(amounts) == 0 {
		return
	}
	tagged, total := false, false
	for _, a := range amounts {
		start := a.Offset - attributionWindow
		if start < 0 {
			start = 0
		}
		end := a.End + attributionWindow
		if end > len(lower) {
			end = len(lower)
		}
		window := lower[start:end]
		if strings.Contains(window, "per post") {
			tagged = true
			if terms.RatePerPost == nil {
				terms.RatePerPost = domain.Float(a.Value)
			}
		}
		if strings.Contains(window, "per story") {
			tagged = true
			if terms.RatePerStory == nil {
				terms.RatePerStory = domain.Float(a.Value)
			}
		}
		if strings.Contains(window, "per reel") {
			tagged = true
			if terms.RatePerReel == nil {
				terms.RatePerReel = domain.Float(a.Value)
			}
		}
		if containsAny(window, []string{"total package", "complete campaign", "total:"}) {
			tagged, total = true, true
		}
	}
	switch {
	case total:
		terms.TotalRate = domain.Float(amounts[len(amounts)-1].Value)
	case !tagged:
		terms.TotalRate = domain.Float(amounts[0].Value)
	}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
