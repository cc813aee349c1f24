package utils

type Metric struct {
	CycleDuration chan float64
	EmailOutcome  chan string
}

func NewMetric() *Metric {
	return &Metric{
		CycleDuration: make(chan float64),
		EmailOutcome:  make(chan string),
	}
}
