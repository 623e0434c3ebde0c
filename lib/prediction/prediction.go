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

// Package prediction decides whether a participant has finished and,
// when they have not, projects a finish time from the observed pace.
// All functions are pure over the canonical split set.
package prediction

import (
	"math"

	"github.com/pacewatch/pacewatch/lib/defaults"
	"github.com/pacewatch/pacewatch/lib/parsers"
	"github.com/pacewatch/pacewatch/lib/utils"
)

// FinishStatus is the outcome of finish detection.
type FinishStatus struct {
	Finished bool
	// Point is the label of the split that decided the finish.
	Point string
	// Net and Clock are that split's times, kept even when not
	// time-shaped so a provider's odd formatting still displays.
	Net   string
	Clock string
}

// Prediction is the finish projection for one participant.
type Prediction struct {
	Finished bool
	// FinishPoint, FinishNet and FinishClock describe the detected
	// finish when Finished.
	FinishPoint string
	FinishNet   string
	FinishClock string
	// PredictedNet and PredictedETA are the projected finish duration
	// and wall clock when not Finished. Empty when no pace is known.
	PredictedNet string
	PredictedETA string
}

// CheckFinish applies the finish-detection rules in order: a finish
// labeled split carrying any time value; a split within the distance
// tolerance of the (snapped) total; the last split at ≥90% of the
// course. The tolerance rule is authoritative, the progress rule a
// lenient fallback.
func CheckFinish(splits []parsers.Split, totalKm float64) FinishStatus {
	if len(splits) == 0 {
		return FinishStatus{}
	}

	// rule 1: finish labels
	for i := len(splits) - 1; i >= 0; i-- {
		s := splits[i]
		if utils.IsFinishLabel(s.PointLabel) && hasAnyTime(s) {
			return finishedAt(s)
		}
	}

	// rule 2: distance tolerance around the snapped total
	snapped := utils.SnapDistance(totalKm)
	if snapped <= 0 {
		snapped = totalKm
	}
	tol := defaults.FinishTolerance(snapped)
	for i := len(splits) - 1; i >= 0; i-- {
		s := splits[i]
		km := splitKm(s)
		if km <= 0 {
			continue
		}
		if math.Abs(km-snapped) <= tol && hasAnyTime(s) {
			return finishedAt(s)
		}
	}

	// rule 3: 90% progress fallback
	if totalKm > 0 {
		last := splits[len(splits)-1]
		if km := splitKm(last); km > 0 && km/totalKm >= 0.9 && hasAnyTime(last) {
			return finishedAt(last)
		}
	}
	return FinishStatus{}
}

// Predict normalizes the split labels, runs finish detection and, for
// a runner still on course, projects the finish from the last known
// pace (or the mean of all paces when the last split has none). The
// projected wall clock wraps modulo 24h across midnight.
func Predict(splits []parsers.Split, totalKm float64) Prediction {
	if len(splits) == 0 {
		return Prediction{}
	}
	splits = parsers.EnsureFinishLabel(splits, totalKm)

	if st := CheckFinish(splits, totalKm); st.Finished {
		return Prediction{
			Finished:    true,
			FinishPoint: st.Point,
			FinishNet:   st.Net,
			FinishClock: st.Clock,
		}
	}

	last := splits[len(splits)-1]
	spk, ok := utils.SecPerKm(last.Pace)
	if !ok {
		spk, ok = meanPace(splits)
	}
	if !ok {
		return Prediction{}
	}

	lastKm := splitKm(last)
	remain := totalKm - lastKm
	if remain < 0 {
		remain = 0
	}
	delta := int(remain * spk)

	p := Prediction{}
	lastNet, _ := utils.ParseDurationSec(utils.CleanLabel(last.NetTime))
	p.PredictedNet = utils.FormatDuration(lastNet + delta)
	if clock := utils.CleanLabel(last.PassClock); utils.LooksTime(clock) {
		if eta, ok := utils.ETAFromClock(clock, delta); ok {
			p.PredictedETA = eta
		}
	}
	return p
}

func meanPace(splits []parsers.Split) (float64, bool) {
	var sum float64
	var n int
	for _, s := range splits {
		if spk, ok := utils.SecPerKm(s.Pace); ok {
			sum += spk
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// splitKm prefers the split's parsed distance, falling back to the
// label.
func splitKm(s parsers.Split) float64 {
	if s.PointKm > 0 {
		return s.PointKm
	}
	if km, ok := utils.KmFromLabel(utils.CleanLabel(s.PointLabel)); ok {
		return km
	}
	return 0
}

// hasAnyTime accepts loosely formatted values: a row with any nonempty
// net or clock field still decides a finish.
func hasAnyTime(s parsers.Split) bool {
	net := utils.CleanLabel(s.NetTime)
	clk := utils.CleanLabel(s.PassClock)
	return net != "" || clk != ""
}

func finishedAt(s parsers.Split) FinishStatus {
	point := utils.CleanLabel(s.PointLabel)
	if point == "" {
		point = "Finish"
	}
	return FinishStatus{
		Finished: true,
		Point:    point,
		Net:      utils.CleanLabel(s.NetTime),
		Clock:    utils.CleanLabel(s.PassClock),
	}
}
