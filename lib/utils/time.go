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
)

// timeRx matches the time shapes the providers print: MM:SS, HH:MM:SS
// and HH:MM:SS.fff.
var timeRx = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2}(?:\.\d{1,3})?)?\b`)

// LooksTime reports whether text contains a time-shaped token.
func LooksTime(text string) bool {
	return timeRx.MatchString(text)
}

// AllTimes returns every time-shaped token in text, in order.
func AllTimes(text string) []string {
	return timeRx.FindAllString(text, -1)
}

// FirstTime returns the first time-shaped token in text, or "".
func FirstTime(text string) string {
	return timeRx.FindString(text)
}

// ParseDurationSec parses "MM:SS", "MM:SS.fff", "HH:MM:SS" or
// "HH:MM:SS.fff" into whole seconds, rounding fractional seconds.
func ParseDurationSec(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	switch len(parts) {
	case 3:
		h, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		sec, err3 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return 0, false
		}
		return int(math.Round(float64(h*3600+m*60) + sec)), true
	case 2:
		m, err1 := strconv.Atoi(parts[0])
		sec, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return int(math.Round(float64(m*60) + sec)), true
	}
	return 0, false
}

// SecPerKm parses a "MM:SS" pace into seconds per kilometre.
func SecPerKm(pace string) (float64, bool) {
	sec, ok := ParseDurationSec(pace)
	if !ok {
		return 0, false
	}
	return float64(sec), true
}

// ClockToSec parses a "HH:MM:SS" wall clock into seconds of day.
// Fractional seconds are truncated.
func ClockToSec(clock string) (int, bool) {
	m := regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})`).FindStringSubmatch(strings.TrimSpace(clock))
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	return h*3600 + mi*60 + s, true
}

// ETAFromClock adds deltaSec to a "HH:MM:SS" wall clock and returns the
// resulting time of day. The result wraps modulo 24 h: a race crossing
// midnight yields the next-day clock without a date component.
func ETAFromClock(clock string, deltaSec int) (string, bool) {
	base, ok := ClockToSec(clock)
	if !ok {
		return "", false
	}
	total := (base + deltaSec) % 86400
	if total < 0 {
		total += 86400
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60), true
}

// FormatHMS renders seconds as zero-padded "HH:MM:SS".
func FormatHMS(sec int) string {
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
}

// FormatDuration renders seconds as "H:MM:SS", or "MM:SS" when under an
// hour. Inverse of ParseDurationSec for inputs in those shapes.
func FormatDuration(sec int) string {
	if sec >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
	}
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}
