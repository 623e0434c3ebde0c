/*
Copyright 2025 Pacewatch Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package utils

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pacewatch/pacewatch/lib/defaults"
)

var (
	kmRx       = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:km|k)\b`)
	bareNumRx  = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
	fullWordRx = regexp.MustCompile(`(?i)\bfull\b`)
	halfWordRx = regexp.MustCompile(`(?i)\bhalf\b`)
	zwspRx     = regexp.MustCompile("[\u200b\u200c\u200d\ufeff]")
	wsRx       = regexp.MustCompile(`\s+`)
)

// KmFromLabel extracts a distance from a checkpoint label such as
// "5km", "10.5 km" or a bare "42.195". Labels without a number ("Section
// 3", "반환점") carry no distance.
func KmFromLabel(label string) (float64, bool) {
	if label == "" {
		return 0, false
	}
	if m := kmRx.FindStringSubmatch(label); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, true
		}
	}
	s := strings.TrimSpace(label)
	if bareNumRx.MatchString(s) {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// SnapDistance rounds a measured distance to the nearest standard race
// length when within defaults.SnapEpsilon, otherwise returns it
// unchanged. Non-positive inputs pass through.
func SnapDistance(km float64) float64 {
	if km <= 0 {
		return km
	}
	best := defaults.StandardDistances[0]
	for _, d := range defaults.StandardDistances[1:] {
		if math.Abs(d-km) < math.Abs(best-km) {
			best = d
		}
	}
	if math.Abs(best-km) <= defaults.SnapEpsilon {
		return best
	}
	return km
}

// ExtractDistanceFromText scans free text for a race distance. Keywords
// win over numbers: "Half/하프" and "Full/풀" map to the nominal
// distances, then any "<n>km" or "<n>K" token is taken literally.
func ExtractDistanceFromText(text string) (label string, km float64, ok bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if fullWordRx.MatchString(t) || hangulWord(t, "풀코스") || hangulWord(t, "풀") {
		return "Full", defaults.FullKm, true
	}
	if halfWordRx.MatchString(t) || hangulWord(t, "하프") {
		return "Half", defaults.HalfKm, true
	}
	if m := kmRx.FindStringSubmatch(t); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return fmt.Sprintf("%gK", v), v, true
		}
	}
	return "", 0, false
}

// hangulWord reports whether word occurs in s bounded by non-word runes.
// regexp's \b only understands ASCII word characters, so the Hangul
// keywords need their own boundary check.
func hangulWord(s, word string) bool {
	for start := 0; ; {
		i := strings.Index(s[start:], word)
		if i < 0 {
			return false
		}
		i += start
		before, _ := utf8.DecodeLastRuneInString(s[:i])
		after, _ := utf8.DecodeRuneInString(s[i+len(word):])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		start = i + len(word)
	}
}

func isWordRune(r rune) bool {
	if r == utf8.RuneError {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// CategoryFromKm names the race category for a distance, with generous
// bands around the common lengths.
func CategoryFromKm(km float64) string {
	switch {
	case km >= 39.0 && km <= 45.0:
		return "Full"
	case km >= 20.0 && km <= 22.8:
		return "Half"
	case km >= 9.0 && km <= 11.5:
		return "10km"
	case km >= 4.0 && km <= 6.5:
		return "5km"
	default:
		return fmt.Sprintf("%gkm", km)
	}
}

// LabelForDistance names a distance for display, with tighter bands than
// CategoryFromKm.
func LabelForDistance(d float64) string {
	switch {
	case d == 0:
		return "Unknown"
	case math.Abs(d-42.195) <= 0.5:
		return "Full"
	case math.Abs(d-32.0) <= 0.5:
		return "32K"
	case math.Abs(d-21.1) <= 0.4:
		return "Half"
	case math.Abs(d-10.0) <= 0.3:
		return "10K"
	case math.Abs(d-5.0) <= 0.25:
		return "5K"
	case math.Abs(d-3.0) <= 0.2:
		return "3K"
	default:
		return fmt.Sprintf("%gK", d)
	}
}

// CleanLabel strips zero-width characters, normalizes NBSP and collapses
// whitespace runs. Provider pages embed all three.
func CleanLabel(s string) string {
	s = zwspRx.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return wsRx.ReplaceAllString(strings.TrimSpace(s), " ")
}

// IsFinishLabel reports whether a cleaned split label names the finish
// line, in Korean or English.
func IsFinishLabel(label string) bool {
	raw := CleanLabel(label)
	for _, k := range defaults.FinishKeywordsKo {
		if strings.Contains(raw, k) {
			return true
		}
	}
	low := strings.ToLower(raw)
	for _, k := range defaults.FinishKeywordsEn {
		if strings.Contains(low, k) {
			return true
		}
	}
	return false
}
