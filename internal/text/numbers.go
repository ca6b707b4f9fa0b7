package text

import (
	"strconv"
	"strings"
)

const (
	// NumberBaseTen represents the base for decimal number system.
	NumberBaseTen = 10
	// NumberBaseTwenty represents the boundary for teen numbers.
	NumberBaseTwenty = 20
	// NumberBaseHundred represents the base for hundreds.
	NumberBaseHundred = 100
	// MaxNumberForWords is the largest integer spelled out; larger ones stay as digits.
	MaxNumberForWords = 999_999_999
)

var (
	ones = []string{
		"zero", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teens = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tens = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

type scale struct {
	name  string
	value int
}

var scales = []scale{
	{name: "million", value: 1_000_000},
	{name: "thousand", value: 1_000},
}

// numberToWords spells out a matched numeric token: an integer, a grouped
// integer ("1,000") or a decimal ("3.14" reads "three point one four").
func numberToWords(token string) string {
	whole, fraction, hasFraction := strings.Cut(strings.ReplaceAll(token, ",", ""), ".")

	number, err := strconv.Atoi(whole)
	if err != nil {
		return token
	}

	words := IntegerToWords(number)
	if !hasFraction {
		return words
	}

	digits := make([]string, 0, len(fraction))
	for _, digit := range fraction {
		digits = append(digits, ones[digit-'0'])
	}

	return words + " point " + strings.Join(digits, " ")
}

// IntegerToWords converts an integer into English words. Negative numbers and
// numbers above MaxNumberForWords are returned as digits.
func IntegerToWords(number int) string {
	if number < 0 || number > MaxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return ones[0]
	}

	var parts []string

	remaining := number
	for _, s := range scales {
		if remaining >= s.value {
			parts = append(parts, underThousand(remaining/s.value)+" "+s.name)
			remaining %= s.value
		}
	}

	if remaining > 0 {
		parts = append(parts, underThousand(remaining))
	}

	return strings.Join(parts, " ")
}

func underThousand(number int) string {
	hundreds := number / NumberBaseHundred
	remainder := number % NumberBaseHundred

	if hundreds == 0 {
		return underHundred(remainder)
	}

	result := ones[hundreds] + " hundred"
	if remainder > 0 {
		result += " " + underHundred(remainder)
	}

	return result
}

func underHundred(number int) string {
	switch {
	case number < NumberBaseTen:
		return ones[number]
	case number < NumberBaseTwenty:
		return teens[number-NumberBaseTen]
	}

	result := tens[number/NumberBaseTen]
	if number%NumberBaseTen > 0 {
		result += " " + ones[number%NumberBaseTen]
	}

	return result
}
