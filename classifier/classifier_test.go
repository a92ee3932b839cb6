package classifier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodstr/classifier"
	"foodstr/config"
	"foodstr/models"
)

func newClassifier(t *testing.T) *classifier.Classifier {
	t.Helper()
	cfg := config.Default()
	c, err := classifier.New(classifier.Config{
		StrongHashtags: cfg.List(cfg.Classifier.StrongHashtags),
		HardWords:      cfg.List(cfg.Classifier.Hard),
		SoftWords:      cfg.List(cfg.Classifier.Soft),
		HardThreshold:  cfg.Classifier.HardThreshold,
		SoftThreshold:  cfg.Classifier.SoftThreshold,
		SpamHashtagCap: cfg.Classifier.SpamHashtagCap,
	})
	require.NoError(t, err)
	return c
}

func TestClassify(t *testing.T) {
	c := newClassifier(t)

	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{
			name:     "empty string",
			text:     "",
			expected: false,
		},
		{
			name:     "no food signal",
			text:     "Just finished a long walk in the park",
			expected: false,
		},
		{
			name:     "strong hashtag",
			text:     "gm everyone #foodstr",
			expected: true,
		},
		{
			name:     "strong hashtag case insensitive",
			text:     "gm everyone #FoodStr",
			expected: true,
		},
		{
			name:     "strong hashtag beats missing word signal",
			text:     "#recipes",
			expected: true,
		},
		{
			name:     "one hard term",
			text:     "My sourdough turned out great this morning",
			expected: true,
		},
		{
			name:     "hard phrase across whitespace",
			text:     "Heading to the farmers\n  market early",
			expected: true,
		},
		{
			name:     "one soft term is not enough",
			text:     "That was a tasty performance",
			expected: false,
		},
		{
			name:     "two soft terms",
			text:     "What a delicious meal that was",
			expected: true,
		},
		{
			name:     "soft term repeated counts twice",
			text:     "food food everywhere",
			expected: true,
		},
		{
			name:     "root veto is unconditional",
			text:     "#foodstr root cause analysis",
			expected: false,
		},
		{
			name:     "root veto case insensitive",
			text:     "Root vegetables are great",
			expected: false,
		},
		{
			name:     "rooted does not trigger the veto",
			text:     "firmly rooted #foodstr",
			expected: true,
		},
		{
			name:     "macro idiom alone is rejected",
			text:     "the CPI report, excluding food and energy, rose 2%",
			expected: false,
		},
		{
			name:     "macro idiom with a hard term is accepted",
			text:     "the CPI report, excluding food and energy, rose 2% after a big breakfast",
			expected: true,
		},
		{
			name:     "macro idiom does not count toward the soft threshold",
			text:     "markets digest the numbers excluding food and energy while traders eat",
			expected: false,
		},
		{
			name:     "soft signal independent of the macro idiom still accepts",
			text:     "excluding food and energy, but this tasty dish is another story",
			expected: true,
		},
		{
			name:     "hard term inside another word does not match",
			text:     "the bbqx marker is not barbecuex",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(tt.text)
			assert.Equal(t, tt.expected, result)
			// Determinism: same text, same verdict.
			assert.Equal(t, result, c.Classify(tt.text))
		})
	}
}

func TestMacroIdiomWithTunedSoftList(t *testing.T) {
	// A soft list without "food" or "energy": the idiom then contains no
	// soft term, and matches outside it must count at full strength.
	c, err := classifier.New(classifier.Config{
		SoftWords:     []string{"tasty", "kitchen"},
		SoftThreshold: 2,
	})
	require.NoError(t, err)

	assert.True(t, c.Classify("excluding food and energy, a tasty kitchen update"))
	assert.False(t, c.Classify("excluding food and energy, a tasty update"))
}

func TestHashtagCount(t *testing.T) {
	c := newClassifier(t)

	tests := []struct {
		name     string
		text     string
		tags     [][]string
		expected int
	}{
		{
			name:     "no hashtags",
			text:     "plain text",
			expected: 0,
		},
		{
			name:     "counts body hashtags",
			text:     "#one #two #three",
			expected: 3,
		},
		{
			name:     "structural tags win when larger",
			text:     "#one",
			tags:     [][]string{{"t", "one"}, {"t", "two"}, {"t", "three"}},
			expected: 3,
		},
		{
			name:     "body wins when larger",
			text:     "#one #two",
			tags:     [][]string{{"t", "one"}},
			expected: 2,
		},
		{
			name:     "non-topic tags are ignored",
			text:     "",
			tags:     [][]string{{"e", "abc"}, {"p", "def"}},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.HashtagCount(tt.text, tt.tags))
		})
	}
}

func TestIsSpam(t *testing.T) {
	c := newClassifier(t)

	// Six hashtags with a cap of five: spam even though the food verdict
	// would pass.
	note := models.Note{
		Text: "#foodstr #pizza #pasta #sushi #ramen #tacos dinner time",
	}
	assert.True(t, c.IsSpam(note))
	assert.True(t, c.Classify(note.Text))

	ok := models.Note{Text: "#foodstr #pizza dinner time"}
	assert.False(t, c.IsSpam(ok))
}

func TestIsReply(t *testing.T) {
	tests := []struct {
		name     string
		tags     [][]string
		expected bool
	}{
		{
			name:     "no tags",
			tags:     nil,
			expected: false,
		},
		{
			name:     "unmarked reference",
			tags:     [][]string{{"e", "aaa"}},
			expected: true,
		},
		{
			name:     "reply marker",
			tags:     [][]string{{"e", "aaa", "", "reply"}},
			expected: true,
		},
		{
			name:     "root marker",
			tags:     [][]string{{"e", "aaa", "", "root"}},
			expected: true,
		},
		{
			name:     "unrecognized marker",
			tags:     [][]string{{"e", "aaa", "", "quote"}},
			expected: true,
		},
		{
			name:     "mention only is not a reply",
			tags:     [][]string{{"e", "aaa", "", "mention"}},
			expected: false,
		},
		{
			name:     "mention plus plain reference is a reply",
			tags:     [][]string{{"e", "aaa", "", "mention"}, {"e", "bbb"}},
			expected: true,
		},
		{
			name:     "p tags are not references",
			tags:     [][]string{{"p", "aaa"}},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifier.IsReply(tt.tags))
		})
	}
}

func TestParentRef(t *testing.T) {
	tests := []struct {
		name     string
		tags     [][]string
		expected string
	}{
		{
			name:     "no references",
			tags:     [][]string{{"p", "xxx"}},
			expected: "",
		},
		{
			name: "explicit reply marker wins",
			tags: [][]string{
				{"e", "root-id", "", "root"},
				{"e", "reply-id", "", "reply"},
				{"e", "other-id"},
			},
			expected: "reply-id",
		},
		{
			name: "non-root reference wins over root",
			tags: [][]string{
				{"e", "root-id", "", "root"},
				{"e", "other-id"},
			},
			expected: "other-id",
		},
		{
			name: "sole root reference",
			tags: [][]string{
				{"e", "root-id", "", "root"},
			},
			expected: "root-id",
		},
		{
			name: "legacy convention takes the last reference",
			tags: [][]string{
				{"e", "first-id"},
				{"e", "second-id"},
			},
			expected: "second-id",
		},
		{
			name: "mentions are skipped",
			tags: [][]string{
				{"e", "first-id"},
				{"e", "mention-id", "", "mention"},
			},
			expected: "first-id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifier.ParentRef(tt.tags))
		})
	}
}
