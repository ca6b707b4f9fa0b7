package text_test

import (
	"testing"

	"github.com/book-expert/narrator/internal/text"
)

// normalizerTestCase defines a standard test case for the normalizer.
type normalizerTestCase struct {
	name     string
	input    string
	expected string
}

// runNormalizerTests runs table-driven cases through a shared Normalizer.
func runNormalizerTests(t *testing.T, tests []normalizerTestCase) {
	t.Helper()

	normalizer := text.NewNormalizer()

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			result := normalizer.Normalize(testCase.input)
			if result != testCase.expected {
				t.Errorf("Expected %q, got %q", testCase.expected, result)
			}
		})
	}
}

func TestNormalizer_EmptyInput(t *testing.T) {
	t.Parallel()

	normalizer := text.NewNormalizer()

	for _, input := range []string{"", "   ", "\n\t"} {
		if result := normalizer.Normalize(input); result != "" {
			t.Errorf("Expected empty string for %q, got %q", input, result)
		}
	}
}

func TestNormalizer_Abbreviations(t *testing.T) {
	t.Parallel()

	runNormalizerTests(t, []normalizerTestCase{
		{name: "Mr expansion", input: "Mr. Smith", expected: "Mister Smith."},
		{name: "Dr expansion", input: "Dr. Johnson", expected: "Doctor Johnson."},
		{name: "multiple", input: "Mr. and Mrs. Smith", expected: "Mister and Misses Smith."},
		{name: "Inc at the end", input: "Future Tech Inc.", expected: "Future Tech Incorporated."},
		{name: "latin", input: "Fruit, e.g. apples", expected: "Fruit, for example apples."},
	})
}

func TestNormalizer_Numbers(t *testing.T) {
	t.Parallel()

	runNormalizerTests(t, []normalizerTestCase{
		{name: "single digit", input: "There are 3 cars.", expected: "There are three cars."},
		{name: "teen", input: "I have 17 friends.", expected: "I have seventeen friends."},
		{name: "tens", input: "Page 42", expected: "Page forty two."},
		{name: "hundred", input: "100 years", expected: "one hundred years."},
		{
			name:     "thousands",
			input:    "It cost 1234 coins.",
			expected: "It cost one thousand two hundred thirty four coins.",
		},
		{name: "grouped", input: "1,000,000 people", expected: "one million people."},
		{name: "decimal", input: "Pi is 3.14", expected: "Pi is three point one four."},
		{name: "digits inside a word", input: "Use mp3 files", expected: "Use mp3 files."},
	})
}

func TestNormalizer_CitationsAndReferences(t *testing.T) {
	t.Parallel()

	runNormalizerTests(t, []normalizerTestCase{
		{
			name:     "bracket reference",
			input:    "Energy is conserved[1].",
			expected: "Energy is conserved.",
		},
		{
			name:     "author year citation",
			input:    "Results were strong (Smith, 2020).",
			expected: "Results were strong.",
		},
	})
}

func TestNormalizer_PreservesURLsAndEmails(t *testing.T) {
	t.Parallel()

	runNormalizerTests(t, []normalizerTestCase{
		{
			name:     "url with digits",
			input:    "Visit https://example.com/page1 now",
			expected: "Visit https://example.com/page1 now.",
		},
		{
			name:     "email",
			input:    "Write to jane.doe42@example.org today",
			expected: "Write to jane.doe42@example.org today.",
		},
	})
}

func TestNormalizer_PunctuationAndWhitespace(t *testing.T) {
	t.Parallel()

	runNormalizerTests(t, []normalizerTestCase{
		{name: "whitespace", input: "Hello\n\n  world\t again", expected: "Hello world again."},
		{name: "repeated marks", input: "Stop!!! Now", expected: "Stop! Now."},
		{name: "ellipsis char", input: "Wait…", expected: "Wait..."},
		{name: "long ellipsis", input: "Wait.....", expected: "Wait..."},
		{name: "smart quotes", input: "“Hi,” she said", expected: `"Hi," she said.`},
		{name: "quoted ending", input: `He said "go."`, expected: `He said "go."`},
		{name: "dangling comma", input: "First clause,", expected: "First clause."},
		{name: "question kept", input: "Really?", expected: "Really?"},
	})
}

func TestIntegerToWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expected string
		number   int
	}{
		{number: 0, expected: "zero"},
		{number: 19, expected: "nineteen"},
		{number: 90, expected: "ninety"},
		{number: 101, expected: "one hundred one"},
		{number: 20_015, expected: "twenty thousand fifteen"},
		{number: 2_000_300, expected: "two million three hundred"},
		{number: -5, expected: "-5"},
		{number: 1_000_000_000, expected: "1000000000"},
	}

	for _, testCase := range tests {
		if result := text.IntegerToWords(testCase.number); result != testCase.expected {
			t.Errorf("IntegerToWords(%d): expected %q, got %q", testCase.number, testCase.expected, result)
		}
	}
}
