package ml

import (
	"math"
	"sort"
)

// MSE is the mean squared error.
func MSE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	var s float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		s += d * d
	}
	return s / float64(len(yTrue))
}

// RMSE is the square root of MSE.
func RMSE(yTrue, yPred []float64) float64 { return math.Sqrt(MSE(yTrue, yPred)) }

// R2 is the coefficient of determination. A constant truth scores 1 when
// predicted exactly and 0 otherwise.
func R2(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return math.NaN()
	}
	var mean float64
	for _, v := range yTrue {
		mean += v
	}
	mean /= float64(len(yTrue))
	var ssRes, ssTot float64
	for i, v := range yTrue {
		ssRes += (v - yPred[i]) * (v - yPred[i])
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

// ClassScore holds per-class precision, recall, F1 and support.
type ClassScore struct {
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// ClassificationReport summarizes predictions of index-encoded classes.
type ClassificationReport struct {
	Accuracy float64
	MacroF1  float64
	// PerClass is keyed by class index; only classes present in the truth or
	// the predictions appear.
	PerClass map[int]ClassScore
}

// Classify builds a report. Undefined precision or recall counts as zero.
func Classify(yTrue, yPred []float64) ClassificationReport {
	rep := ClassificationReport{PerClass: make(map[int]ClassScore)}
	if len(yTrue) == 0 {
		rep.Accuracy = math.NaN()
		rep.MacroF1 = math.NaN()
		return rep
	}
	tp := map[int]int{}
	predicted := map[int]int{}
	actual := map[int]int{}
	correct := 0
	for i := range yTrue {
		t, p := int(yTrue[i]), int(yPred[i])
		actual[t]++
		predicted[p]++
		if t == p {
			tp[t]++
			correct++
		}
	}
	classes := make([]int, 0, len(actual)+len(predicted))
	for c := range actual {
		classes = append(classes, c)
	}
	for c := range predicted {
		if _, ok := actual[c]; !ok {
			classes = append(classes, c)
		}
	}
	sort.Ints(classes)

	var f1Sum float64
	for _, c := range classes {
		var s ClassScore
		s.Support = actual[c]
		if predicted[c] > 0 {
			s.Precision = float64(tp[c]) / float64(predicted[c])
		}
		if actual[c] > 0 {
			s.Recall = float64(tp[c]) / float64(actual[c])
		}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		rep.PerClass[c] = s
		f1Sum += s.F1
	}
	rep.Accuracy = float64(correct) / float64(len(yTrue))
	rep.MacroF1 = f1Sum / float64(len(classes))
	return rep
}
